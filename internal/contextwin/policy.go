package contextwin

import (
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultMinHistory = 5
	DefaultKeepRecent = 3
)

// Policy 描述压缩后保留哪些消息：
// 首条消息（任务描述）+ 最近 KeepRecent 条消息 + 一条 ContinuityAnchor 用户消息。
type Policy struct {
	// MinHistory 历史消息少于该值时不压缩（即使 flag 为 true）。
	MinHistory int `mapstructure:"min_history"`
	// KeepRecent 压缩后保留的最近消息条数。
	KeepRecent int `mapstructure:"keep_recent"`
}

func DefaultPolicy() Policy {
	return Policy{
		MinHistory: DefaultMinHistory,
		KeepRecent: DefaultKeepRecent,
	}
}

func (p Policy) withDefaults() Policy {
	if p.KeepRecent <= 0 {
		p.KeepRecent = DefaultKeepRecent
	}
	if p.MinHistory <= 0 {
		p.MinHistory = DefaultMinHistory
	}
	// 首条消息与最近窗口不能重叠
	if p.MinHistory < p.KeepRecent+2 {
		p.MinHistory = p.KeepRecent + 2
	}
	return p
}

// Compact 对历史做一次压缩，返回新历史以及是否真的发生了压缩。
// 历史过短时原样返回；返回的切片总是新分配的，不会与入参共享底层数组。
func (p Policy) Compact(history []*schema.Message, anchor string) ([]*schema.Message, bool) {
	p = p.withDefaults()

	n := len(history)
	if n < p.MinHistory {
		return history, false
	}

	out := make([]*schema.Message, 0, p.KeepRecent+2)
	out = append(out, history[0])
	out = append(out, history[n-p.KeepRecent:]...)
	out = append(out, schema.UserMessage(anchor))
	return out, true
}
