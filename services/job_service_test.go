package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobProgressAndCompletion(t *testing.T) {
	m := NewJobManager(time.Hour)
	release := make(chan struct{})
	job := m.Submit(7, func(ctx context.Context, progress ProgressFunc) (*ImportResult, error) {
		<-release
		progress(50, 100, "reprojecting")
		return &ImportResult{Success: true, LayerID: 7, FeatureCount: 100}, nil
	})

	msgs, cancel := job.Subscribe()
	defer cancel()
	close(release)

	var got []ProgressMessage
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case msg, ok := <-msgs:
			if !ok {
				open = false
				break
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatal("progress channel never closed")
		}
	}

	var sawProgress bool
	for _, msg := range got {
		if msg.Type == "progress" && msg.Percentage == 45 {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Errorf("no progress message in %+v", got)
	}
	if last := got[len(got)-1]; last.Type != string(JobCompleted) || last.Percentage != 100 {
		t.Errorf("last message = %+v", last)
	}

	state := job.Snapshot()
	if state.Status != JobCompleted || state.LayerID != 7 || state.Result.FeatureCount != 100 || state.EndedAt == nil || state.StartedAt == nil {
		t.Fatalf("state = %+v", state)
	}
	if found, ok := m.Get(job.ID()); !ok || found != job {
		t.Fatal("job not found by id")
	}
	// 结束后订阅立即得到关闭的通道
	after, _ := job.Subscribe()
	if _, ok := <-after; ok {
		t.Fatal("subscription after completion is open")
	}
}

func TestJobFailure(t *testing.T) {
	m := NewJobManager(time.Hour)
	job := m.Submit(3, func(context.Context, ProgressFunc) (*ImportResult, error) {
		return nil, &ImportError{Message: "failed to parse file", Err: errors.New("bad record")}
	})
	waitForJob(t, job)
	state := job.Snapshot()
	if state.Status != JobFailed || state.Error != "failed to parse file: bad record" || state.Result != nil {
		t.Fatalf("state = %+v", state)
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("unknown job found")
	}
}

func TestJobPruneFinished(t *testing.T) {
	m := NewJobManager(time.Millisecond)
	job := m.Submit(1, func(context.Context, ProgressFunc) (*ImportResult, error) {
		return &ImportResult{}, nil
	})
	waitForJob(t, job)
	time.Sleep(5 * time.Millisecond)

	// 提交新任务时清理已过保留期的任务
	next := m.Submit(2, func(context.Context, ProgressFunc) (*ImportResult, error) { return &ImportResult{}, nil })
	if _, ok := m.Get(job.ID()); ok {
		t.Fatal("expired job kept")
	}
	if _, ok := m.Get(next.ID()); !ok {
		t.Fatal("new job missing")
	}
	waitForJob(t, next)
}

func TestSubscribeCancelTwice(t *testing.T) {
	m := NewJobManager(time.Hour)
	release := make(chan struct{})
	job := m.Submit(1, func(context.Context, ProgressFunc) (*ImportResult, error) {
		<-release
		return &ImportResult{}, nil
	})
	_, cancel := job.Subscribe()
	cancel()
	cancel()
	close(release)
	waitForJob(t, job)
}
