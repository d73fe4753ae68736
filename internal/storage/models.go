package storage

import "time"

// ThreadMessage 是会话线程中的一条消息（checkpoint 存储的最小单元）。
//
// 一个线程的完整历史 = 该 ThreadID 下按 Seq 升序排列的所有行。
// 上下文压缩会整体替换历史：旧行全部删除、新行重新编号并获得新的 ID。
type ThreadMessage struct {
	// ID 为消息唯一标识（uuid），整体替换后旧 ID 全部失效。
	ID string `gorm:"primaryKey;size:36"`
	// ThreadID 为会话线程标识；与 Seq 组成唯一索引。
	ThreadID string `gorm:"size:64;not null;uniqueIndex:idx_thread_messages_thread_seq,priority:1"`
	// AgentName 为写入该消息的 agent 实例名称，便于按 agent 排查。
	AgentName string `gorm:"size:128;index"`
	// Seq 为线程内顺序号，从 0 开始，插入顺序即时间顺序。
	Seq int `gorm:"not null;uniqueIndex:idx_thread_messages_thread_seq,priority:2"`
	// Role 为 user/assistant/tool。
	Role    string `gorm:"size:16;not null"`
	Content string `gorm:"type:text"`
	// ReasoningContent 为模型返回的思考内容（可选）。
	ReasoningContent string `gorm:"type:text"`
	// ToolCallsJSON 为 assistant 消息中的工具调用列表（JSON）。
	ToolCallsJSON string `gorm:"type:text"`
	// ToolCallID/ToolName 仅 tool 消息使用。
	ToolCallID string    `gorm:"size:128"`
	ToolName   string    `gorm:"size:128"`
	Name       string    `gorm:"size:128"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// AgentFlag 保存每个 agent 实例的持久化状态，目前只有压缩标记。
type AgentFlag struct {
	AgentName string    `gorm:"primaryKey;size:128"`
	Compact   bool      `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// CompactionEvent 记录一次实际发生的上下文压缩。
type CompactionEvent struct {
	ID             uint64    `gorm:"primaryKey"`
	AgentName      string    `gorm:"size:128;not null;index"`
	ThreadID       string    `gorm:"size:64;index"`
	MessagesBefore int       `gorm:"not null"`
	MessagesAfter  int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime;index"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计、追溯与后续分析。
//
// 一条审计记录对应 agent 的一次工具调用（例如：run_python_code、save_result）。
// 复杂入参/输出统一以 JSON 字符串存放，便于快速落地与版本演进。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// TraceID 用于串联一次用户输入触发的整条调用链。
	TraceID string `gorm:"size:64;index"`
	// ThreadID 为工具调用所在的会话线程。
	ThreadID string `gorm:"size:64;index"`
	// Action 为工具名，例如 run_python_code。
	Action string `gorm:"size:128;not null;index"`
	// ParamsJSON 存放工具入参（JSON 字符串）。
	ParamsJSON string `gorm:"type:text"`
	// ResultJSON 存放工具输出（截断后）。
	ResultJSON string `gorm:"type:text"`
	// Status 表示执行状态（running/success/failed）。
	Status string `gorm:"size:32;not null;index"`
	// ErrorMessage 存放失败时的错误信息。
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示工具执行起止时间。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	// CreatedAt 为记录写入数据库的时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}
