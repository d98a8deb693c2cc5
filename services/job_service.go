package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ProgressMessage 推送给 websocket 客户端的进度消息
type ProgressMessage struct {
	Type       string `json:"type"`
	Percentage int    `json:"percentage,omitempty"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

// JobState 任务状态快照
type JobState struct {
	ID        string        `json:"id"`
	LayerID   uint          `json:"layer_id"`
	Status    JobStatus     `json:"status"`
	Progress  int           `json:"progress"`
	Message   string        `json:"message,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Error     string        `json:"error,omitempty"`
	Result    *ImportResult `json:"result,omitempty"`
}

// ImportJob 异步导入任务
type ImportJob struct {
	state       JobState
	mutex       sync.RWMutex
	subscribers map[chan ProgressMessage]struct{}
}

func (j *ImportJob) ID() string { return j.state.ID }

func (j *ImportJob) Snapshot() JobState {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.state
}

func (j *ImportJob) Done() bool {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.state.Status == JobCompleted || j.state.Status == JobFailed
}

// Subscribe 订阅进度, 任务结束时通道关闭; 取消函数可重复调用
func (j *ImportJob) Subscribe() (<-chan ProgressMessage, func()) {
	ch := make(chan ProgressMessage, 16)
	j.mutex.Lock()
	if j.state.Status == JobCompleted || j.state.Status == JobFailed {
		j.mutex.Unlock()
		close(ch)
		return ch, func() {}
	}
	j.subscribers[ch] = struct{}{}
	j.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mutex.Lock()
			if _, ok := j.subscribers[ch]; ok {
				delete(j.subscribers, ch)
				close(ch)
			}
			j.mutex.Unlock()
		})
	}
}

// publish 调用方持有写锁; 慢消费者直接丢弃消息
func (j *ImportJob) publish(msg ProgressMessage) {
	for ch := range j.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (j *ImportJob) setStatus(status JobStatus, message string) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	now := time.Now()
	j.state.Status = status
	j.state.Message = message
	switch status {
	case JobRunning:
		j.state.StartedAt = &now
	case JobCompleted, JobFailed:
		j.state.EndedAt = &now
	}
	j.publish(ProgressMessage{Type: string(status), Percentage: j.state.Progress, Message: message, Timestamp: now.UnixMilli()})
}

func (j *ImportJob) report(done, total int, message string) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	if total > 0 {
		// 写库阶段留最后 10%
		j.state.Progress = done * 90 / total
	}
	j.state.Message = message
	j.publish(ProgressMessage{Type: "progress", Percentage: j.state.Progress, Message: message, Timestamp: time.Now().UnixMilli()})
}

func (j *ImportJob) finish(res *ImportResult, err error) {
	j.mutex.Lock()
	if err != nil {
		j.state.Error = err.Error()
	} else {
		j.state.Result = res
		j.state.Progress = 100
	}
	j.mutex.Unlock()

	if err != nil {
		j.setStatus(JobFailed, err.Error())
	} else {
		j.setStatus(JobCompleted, "import complete")
	}

	j.mutex.Lock()
	for ch := range j.subscribers {
		close(ch)
	}
	j.subscribers = map[chan ProgressMessage]struct{}{}
	j.mutex.Unlock()
}

// JobManager 进程内的任务表, 已结束任务保留 retention 时长
type JobManager struct {
	jobs      map[string]*ImportJob
	mutex     sync.RWMutex
	retention time.Duration
}

func NewJobManager(retention time.Duration) *JobManager {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &JobManager{jobs: make(map[string]*ImportJob), retention: retention}
}

// Submit 登记任务并在后台执行 run
func (m *JobManager) Submit(layerID uint, run func(ctx context.Context, progress ProgressFunc) (*ImportResult, error)) *ImportJob {
	job := &ImportJob{
		state: JobState{
			ID:        uuid.New().String(),
			LayerID:   layerID,
			Status:    JobPending,
			CreatedAt: time.Now(),
		},
		subscribers: make(map[chan ProgressMessage]struct{}),
	}
	m.mutex.Lock()
	m.prune()
	m.jobs[job.state.ID] = job
	m.mutex.Unlock()

	go func() {
		job.setStatus(JobRunning, "import started")
		res, err := run(context.Background(), job.report)
		job.finish(res, err)
	}()
	return job
}

func (m *JobManager) Get(id string) (*ImportJob, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// prune 调用方持有写锁
func (m *JobManager) prune() {
	cutoff := time.Now().Add(-m.retention)
	for id, job := range m.jobs {
		job.mutex.RLock()
		expired := job.state.EndedAt != nil && job.state.EndedAt.Before(cutoff)
		job.mutex.RUnlock()
		if expired {
			delete(m.jobs, id)
		}
	}
}
