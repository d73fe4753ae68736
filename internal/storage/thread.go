package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ThreadSummary 为线程列表的一行。
type ThreadSummary struct {
	ThreadID  string
	AgentName string
	Messages  int64
	UpdatedAt time.Time
}

// LoadThread 按顺序返回线程的完整历史；线程不存在时返回空切片。
func (s *Storage) LoadThread(ctx context.Context, threadID string) ([]*schema.Message, error) {
	rows, err := s.LoadThreadRows(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].ToSchema()
		if err != nil {
			return nil, fmt.Errorf("decode message %s: %w", rows[i].ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadThreadRows 返回原始行（包含 ID 与 Seq）。
func (s *Storage) LoadThreadRows(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("thread id is required")
	}
	var rows []ThreadMessage
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return rows, nil
}

// AppendThreadMessages 在线程末尾追加消息。
func (s *Storage) AppendThreadMessages(ctx context.Context, threadID, agentName string, msgs []*schema.Message) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(threadID) == "" {
		return errors.New("thread id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next struct{ N int }
		if err := tx.Model(&ThreadMessage{}).
			Select("COALESCE(MAX(seq) + 1, 0) AS n").
			Where("thread_id = ?", threadID).
			Scan(&next).Error; err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		return insertMessages(tx, threadID, agentName, next.N, msgs)
	})
}

// ReplaceThreadMessages 整体替换线程历史：先删除全部旧消息，再按顺序写入新消息。
func (s *Storage) ReplaceThreadMessages(ctx context.Context, threadID, agentName string, msgs []*schema.Message) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(threadID) == "" {
		return errors.New("thread id is required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", threadID).Delete(&ThreadMessage{}).Error; err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
		return insertMessages(tx, threadID, agentName, 0, msgs)
	})
}

// DeleteThread 删除线程的全部消息，返回删除条数。
func (s *Storage) DeleteThread(ctx context.Context, threadID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	res := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&ThreadMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete thread: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListThreads 按最近更新时间倒序列出线程。
func (s *Storage) ListThreads(ctx context.Context, limit int) ([]ThreadSummary, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	var rows []struct {
		ThreadID  string
		AgentName string
		Messages  int64
		UpdatedAt string
	}
	if err := s.db.WithContext(ctx).Model(&ThreadMessage{}).
		Select("thread_id, MAX(agent_name) AS agent_name, COUNT(*) AS messages, MAX(created_at) AS updated_at").
		Group("thread_id").
		Order("updated_at DESC").
		Limit(normalizeLimit(limit)).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	out := make([]ThreadSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, ThreadSummary{
			ThreadID:  r.ThreadID,
			AgentName: r.AgentName,
			Messages:  r.Messages,
			UpdatedAt: parseAggregateTime(r.UpdatedAt),
		})
	}
	return out, nil
}

func (s *Storage) CountThreadMessages(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&ThreadMessage{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count thread messages: %w", err)
	}
	return n, nil
}

func insertMessages(tx *gorm.DB, threadID, agentName string, startSeq int, msgs []*schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]ThreadMessage, 0, len(msgs))
	seq := startSeq
	for _, m := range msgs {
		if m == nil {
			continue
		}
		row, err := FromSchema(m)
		if err != nil {
			return err
		}
		row.ID = uuid.NewString()
		row.ThreadID = threadID
		row.AgentName = agentName
		row.Seq = seq
		row.CreatedAt = now
		rows = append(rows, row)
		seq++
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("insert thread messages: %w", err)
	}
	return nil
}

// FromSchema 将 eino 消息转换为待写入的行（不含 ID/ThreadID/Seq）。
func FromSchema(m *schema.Message) (ThreadMessage, error) {
	row := ThreadMessage{
		Role:             string(m.Role),
		Content:          m.Content,
		ReasoningContent: m.ReasoningContent,
		ToolCallID:       m.ToolCallID,
		ToolName:         m.ToolName,
		Name:             m.Name,
	}
	if len(m.ToolCalls) > 0 {
		data, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return ThreadMessage{}, fmt.Errorf("marshal tool calls: %w", err)
		}
		row.ToolCallsJSON = string(data)
	}
	return row, nil
}

// ToSchema 将存储的行还原为 eino 消息。
func (r *ThreadMessage) ToSchema() (*schema.Message, error) {
	m := &schema.Message{
		Role:             schema.RoleType(r.Role),
		Content:          r.Content,
		ReasoningContent: r.ReasoningContent,
		ToolCallID:       r.ToolCallID,
		ToolName:         r.ToolName,
		Name:             r.Name,
	}
	if r.ToolCallsJSON != "" {
		if err := json.Unmarshal([]byte(r.ToolCallsJSON), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return m, nil
}

// sqlite 的 MAX(created_at) 返回字符串，postgres 返回 RFC3339 风格文本
func parseAggregateTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if tm, err := time.Parse(l, s); err == nil {
			return tm.UTC()
		}
	}
	return time.Time{}
}
