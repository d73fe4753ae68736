package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultLimit = 200
	maxLimit     = 5000
)

// AuditQuery 用于查询审计记录的过滤条件。
type AuditQuery struct {
	// TraceID/ThreadID/Action/Status 为可选过滤条件，均为精确匹配。
	TraceID  string
	ThreadID string
	Action   string
	Status   string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按 CreatedAt 倒序返回。
	Desc bool
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&AuditRecord{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.ThreadID != "" {
		db = db.Where("thread_id = ?", q.ThreadID)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC, id DESC")
	} else {
		db = db.Order("created_at ASC, id ASC")
	}
	db = db.Limit(limit)

	var out []AuditRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update audit record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("audit record", id)
	}
	return nil
}

func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&AuditRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// DeleteAuditRecordsBefore 删除 CreatedAt 早于 before 的审计记录。
func (s *Storage) DeleteAuditRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAuditRecordsKeepLatest 只保留最新的 keep 条审计记录。
func (s *Storage) DeleteAuditRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotInitialized
	}
	if keep < 0 {
		return 0, errors.New("keep must be >= 0")
	}

	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&AuditRecord{}).
		Select("id").
		Order("id DESC").
		Limit(keep).
		Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select latest audit ids: %w", err)
	}

	db := s.db.WithContext(ctx)
	if len(ids) > 0 {
		db = db.Where("id NOT IN ?", ids)
	} else {
		db = db.Where("1 = 1")
	}
	res := db.Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     uint64
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

func gormNotFoundError(entity string, id uint64) error {
	return notFoundError{Entity: entity, ID: id}
}
