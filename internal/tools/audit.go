package tools

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/storage"
)

const (
	auditTruncateLimit = 2048
)

// AuditStore 为审计包装器需要的存储能力，*storage.Storage 实现了它。
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志
type AuditedTool struct {
	impl   tool.InvokableTool
	store  AuditStore
	logger logrus.FieldLogger
}

// WrapWithAudit 将普通工具包装为带审计功能的工具；store 为 nil 时原样返回
func WrapWithAudit(t tool.BaseTool, store AuditStore, logger logrus.FieldLogger) tool.BaseTool {
	if store == nil {
		return t
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if it, ok := t.(tool.InvokableTool); ok {
		return &AuditedTool{impl: it, store: store, logger: logger}
	}
	return t
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	info, err := t.impl.Info(ctx)
	action := "unknown"
	if err == nil && info != nil {
		action = info.Name
	}

	now := time.Now().UTC()
	record := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		ThreadID:   contextwin.ThreadIDFrom(ctx),
		Action:     action,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     "running",
		StartedAt:  now,
	}
	log := t.logger.WithFields(logrus.Fields{"tool": action, "trace_id": record.TraceID})

	// 插入失败只记录日志，不阻断工具执行
	if err := t.store.InsertAuditRecord(ctx, record); err != nil {
		log.WithError(err).Warn("failed to insert audit record")
	}

	// 参数 JSON 不完整（例如只包含 { ）时补全为 {}
	safeArgs := argumentsInJSON
	if safeArgs == "{" || safeArgs == "" {
		safeArgs = "{}"
	}
	result, runErr := t.impl.InvokableRun(ctx, safeArgs, opts...)

	finishedAt := time.Now().UTC()
	status := "success"
	var errMsg *string
	var resultJSON *string

	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		errMsg = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		resultJSON = &r
	}

	// 只有在 Insert 成功且有了 ID 后，才能 Update
	if record.ID != 0 {
		update := storage.AuditUpdate{
			Status:       &status,
			ResultJSON:   resultJSON,
			ErrorMessage: errMsg,
			FinishedAt:   &finishedAt,
		}
		if err := t.store.UpdateAuditRecord(ctx, record.ID, update); err != nil {
			log.WithError(err).Warn("failed to update audit record")
		}
	}

	return result, runErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
