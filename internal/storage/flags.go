package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetCompactFlag 实现 contextwin.FlagStore；没有记录时返回 false。
func (s *Storage) GetCompactFlag(ctx context.Context, agentName string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNotInitialized
	}
	var f AgentFlag
	err := s.db.WithContext(ctx).Where("agent_name = ?", agentName).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get compact flag: %w", err)
	}
	return f.Compact, nil
}

func (s *Storage) SetCompactFlag(ctx context.Context, agentName string, value bool) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(agentName) == "" {
		return errors.New("agent name is required")
	}
	f := AgentFlag{AgentName: agentName, Compact: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"compact", "updated_at"}),
	}).Create(&f).Error
	if err != nil {
		return fmt.Errorf("set compact flag: %w", err)
	}
	return nil
}

// InitCompactFlag 仅在记录不存在时写入 false。
func (s *Storage) InitCompactFlag(ctx context.Context, agentName string) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(agentName) == "" {
		return errors.New("agent name is required")
	}
	f := AgentFlag{AgentName: agentName, Compact: false, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&f).Error; err != nil {
		return fmt.Errorf("init compact flag: %w", err)
	}
	return nil
}

// ListAgentFlags 返回所有 agent 的压缩标记。
func (s *Storage) ListAgentFlags(ctx context.Context) ([]AgentFlag, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	var out []AgentFlag
	if err := s.db.WithContext(ctx).Order("agent_name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list agent flags: %w", err)
	}
	return out, nil
}

func (s *Storage) InsertCompactionEvent(ctx context.Context, ev *CompactionEvent) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if ev == nil {
		return errors.New("compaction event is nil")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("insert compaction event: %w", err)
	}
	return nil
}

// CompactionQuery 为压缩事件的过滤条件，均为可选。
type CompactionQuery struct {
	AgentName string
	ThreadID  string
	Limit     int
}

// QueryCompactionEvents 按时间倒序返回压缩事件。
func (s *Storage) QueryCompactionEvents(ctx context.Context, q CompactionQuery) ([]CompactionEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	db := s.db.WithContext(ctx).Model(&CompactionEvent{})
	if q.AgentName != "" {
		db = db.Where("agent_name = ?", q.AgentName)
	}
	if q.ThreadID != "" {
		db = db.Where("thread_id = ?", q.ThreadID)
	}
	var out []CompactionEvent
	if err := db.Order("id DESC").Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query compaction events: %w", err)
	}
	return out, nil
}

func (s *Storage) CountCompactionEvents(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&CompactionEvent{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count compaction events: %w", err)
	}
	return n, nil
}
