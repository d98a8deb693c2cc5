package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"github.com/google/uuid"
)

// StagedFile 上传后等待导入的临时文件
type StagedFile struct {
	ID        string
	FileName  string
	Format    Transformer.Format
	Size      int64
	Path      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// StagingStore 暂存目录, 所有路径都只由 id 和格式推出
type StagingStore struct {
	root string
	ttl  time.Duration
	now  func() time.Time
}

func NewStagingStore(root string, ttl time.Duration) (*StagingStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StagingStore{root: abs, ttl: ttl, now: time.Now}, nil
}

func (s *StagingStore) Root() string { return s.root }

func (s *StagingStore) pathFor(id string, format Transformer.Format) string {
	return filepath.Join(s.root, id+format.Extension())
}

// Store 以新的随机 id 写入上传内容
func (s *StagingStore) Store(r io.Reader, fileName string, format Transformer.Format) (*StagedFile, error) {
	if format.Extension() == "" {
		return nil, &ValidationError{Message: Transformer.UnsupportedTypeMessage}
	}
	id := uuid.New().String()
	path := s.pathFor(id, format)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}

	now := s.now()
	return &StagedFile{
		ID:        id,
		FileName:  fileName,
		Format:    format,
		Size:      size,
		Path:      path,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

// Resolve 由 id 和格式还原路径; 文件不存在或已超过保留期都视为过期
func (s *StagingStore) Resolve(id string, format Transformer.Format) (string, error) {
	expired := &NotFoundError{Message: "Uploaded file not found or expired. Please upload again.", Expired: true}
	if _, err := uuid.Parse(id); err != nil {
		return "", expired
	}
	if format.Extension() == "" {
		return "", &ValidationError{Message: Transformer.UnsupportedTypeMessage}
	}
	path := s.pathFor(id, format)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", expired
		}
		return "", err
	}
	if s.now().Sub(info.ModTime()) > s.ttl {
		return "", expired
	}
	return path, nil
}

// Delete 尽力删除, 不返回错误, 重复调用无副作用
func (s *StagingStore) Delete(path string) {
	if !s.contains(path) {
		logger.L().Warn("refusing to delete file outside staging dir", "path", path)
		return
	}
	if err := methods.RemoveFile(path); err != nil {
		logger.L().Warn("delete staged file failed", "path", path, "error", err)
	}
}

func (s *StagingStore) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Sweep 删除超过保留期的暂存文件, 返回删除数量
func (s *StagingStore) Sweep() int {
	stale, err := methods.StaleFiles(s.root, s.now().Add(-s.ttl))
	if err != nil {
		logger.L().Warn("scan staging dir failed", "dir", s.root, "error", err)
		return 0
	}
	removed := 0
	for _, path := range stale {
		if err := methods.RemoveFile(path); err != nil {
			logger.L().Warn("expire staged file failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// RunJanitor 定期清理过期文件, ctx 结束时退出
func (s *StagingStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.L().Info("staging janitor removed expired files", "count", n)
			}
		}
	}
}
