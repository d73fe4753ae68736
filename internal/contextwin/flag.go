package contextwin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FlagStore 持久化每个 agent 实例的压缩标记（CompactionFlag）。
// key 为 agent 名称；未设置过的 agent 视为 false。
type FlagStore interface {
	GetCompactFlag(ctx context.Context, agentName string) (bool, error)
	SetCompactFlag(ctx context.Context, agentName string, value bool) error
}

type flagIniter interface {
	InitCompactFlag(ctx context.Context, agentName string) error
}

// InitFlag 在 agent 实例构建时调用：标记不存在时写入 false，已存在则保持原值。
func InitFlag(ctx context.Context, store FlagStore, agentName string) error {
	if fi, ok := store.(flagIniter); ok {
		return fi.InitCompactFlag(ctx, agentName)
	}
	if _, err := store.GetCompactFlag(ctx, agentName); err != nil {
		return store.SetCompactFlag(ctx, agentName, false)
	}
	return nil
}

const flagFileName = "compact.flag"

// FileFlagStore 把标记存成 <Dir>/<agent>/compact.flag，内容为 "true" 或 "false"。
type FileFlagStore struct {
	Dir string
}

func NewFileFlagStore(dir string) *FileFlagStore {
	return &FileFlagStore{Dir: dir}
}

func (s *FileFlagStore) path(agentName string) (string, error) {
	name := strings.TrimSpace(agentName)
	if name == "" {
		return "", errors.New("agent name is required")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid agent name %q", agentName)
	}
	return filepath.Join(s.Dir, name, flagFileName), nil
}

// GetCompactFlag 文件不存在时返回 false 且不报错。
func (s *FileFlagStore) GetCompactFlag(_ context.Context, agentName string) (bool, error) {
	p, err := s.path(agentName)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read flag file: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(string(data)), "true"), nil
}

func (s *FileFlagStore) SetCompactFlag(_ context.Context, agentName string, value bool) error {
	p, err := s.path(agentName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}

	content := "false"
	if value {
		content = "true"
	}

	// 先写临时文件再 rename，避免读到写了一半的内容
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write flag file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename flag file: %w", err)
	}
	return nil
}

func (s *FileFlagStore) InitCompactFlag(ctx context.Context, agentName string) error {
	p, err := s.path(agentName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return s.SetCompactFlag(ctx, agentName, false)
}

// MemoryFlagStore 进程内实现，主要用于测试。
type MemoryFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: map[string]bool{}}
}

func (s *MemoryFlagStore) GetCompactFlag(_ context.Context, agentName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[agentName], nil
}

func (s *MemoryFlagStore) SetCompactFlag(_ context.Context, agentName string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags == nil {
		s.flags = map[string]bool{}
	}
	s.flags[agentName] = value
	return nil
}
