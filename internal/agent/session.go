package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	agentflow "github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/schema"
	cb "github.com/cloudwego/eino/utils/callbacks"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/tools"
)

// Handlers 为一轮对话的可选回调。OnChunk 非空时以流式方式调用模型。
type Handlers struct {
	OnChunk      func(content string)
	OnToolCall   func(name, arguments string)
	OnToolResult func(name, result string, err error)
}

// TurnResult 为一轮对话的结果。
type TurnResult struct {
	TraceID string
	Answer  *schema.Message
	// Compacted 表示本轮发生过上下文压缩，存储中的历史已被整体替换。
	Compacted bool
	// Messages 为本轮结束后该线程的完整历史。
	Messages []*schema.Message
}

// Run 执行一轮对话：加载线程历史，追加用户输入，运行 agent，并把新的历史写回存储。
// 同一线程的多次 Run 串行执行。
func (s *Session) Run(ctx context.Context, threadID, query string, h Handlers) (*TurnResult, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	unlock := s.locks.lock(threadID)
	defer unlock()

	history, err := s.store.LoadThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	input := make([]*schema.Message, 0, len(history)+1)
	input = append(input, history...)
	input = append(input, schema.UserMessage(query))

	traceID := uuid.NewString()
	tr := &transcript{}
	ctx = withTranscript(ctx, tr)
	ctx = contextwin.WithThreadID(ctx, threadID)
	ctx = tools.WithTraceID(ctx, traceID)

	log := s.log.WithFields(logrus.Fields{"thread": threadID, "trace_id": traceID})
	log.WithField("history", len(history)).Debug("turn started")

	var opts []agentflow.AgentOption
	if handler := toolHandler(h); handler != nil {
		opts = append(opts, agentflow.WithComposeOptions(compose.WithCallbacks(handler)))
	}

	var answer *schema.Message
	if h.OnChunk != nil {
		answer, err = s.stream(ctx, input, h.OnChunk, opts...)
	} else {
		answer, err = s.agent.Generate(ctx, input, opts...)
	}

	state, compacted := tr.snapshot()
	if state == nil {
		state = input
	}
	full := make([]*schema.Message, 0, len(state)+1)
	full = append(full, state...)
	if err == nil && answer != nil {
		full = append(full, answer)
	}

	// 出错时也保存已经产生的消息，压缩一旦发生就必须落盘
	if perr := s.persist(ctx, threadID, history, full, compacted); perr != nil {
		if err != nil {
			log.WithError(perr).Error("persist thread after failed turn")
		} else {
			return nil, perr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}

	log.WithFields(logrus.Fields{
		"messages":  len(full),
		"compacted": compacted,
	}).Debug("turn finished")

	return &TurnResult{
		TraceID:   traceID,
		Answer:    answer,
		Compacted: compacted,
		Messages:  full,
	}, nil
}

// History 返回线程当前保存的历史。
func (s *Session) History(ctx context.Context, threadID string) ([]*schema.Message, error) {
	return s.store.LoadThread(ctx, threadID)
}

func (s *Session) stream(ctx context.Context, input []*schema.Message, onChunk func(string), opts ...agentflow.AgentOption) (*schema.Message, error) {
	sr, err := s.agent.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onChunk(chunk.Content)
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("empty model stream")
	}
	return schema.ConcatMessages(chunks)
}

// persist 写回本轮历史：发生过压缩时整体替换，否则只追加新消息。
func (s *Session) persist(ctx context.Context, threadID string, history, full []*schema.Message, compacted bool) error {
	if compacted {
		if err := s.store.ReplaceThreadMessages(ctx, threadID, s.name, full); err != nil {
			return fmt.Errorf("replace thread %s: %w", threadID, err)
		}
		return nil
	}
	if len(full) <= len(history) {
		return nil
	}
	if err := s.store.AppendThreadMessages(ctx, threadID, s.name, full[len(history):]); err != nil {
		return fmt.Errorf("append thread %s: %w", threadID, err)
	}
	return nil
}

func toolHandler(h Handlers) callbacks.Handler {
	if h.OnToolCall == nil && h.OnToolResult == nil {
		return nil
	}
	return cb.NewHandlerHelper().
		Tool(&cb.ToolCallbackHandler{
			OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
				if h.OnToolCall != nil && info != nil && input != nil {
					h.OnToolCall(info.Name, input.ArgumentsInJSON)
				}
				return ctx
			},
			OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
				if h.OnToolResult != nil && info != nil && output != nil {
					h.OnToolResult(info.Name, output.Response, nil)
				}
				return ctx
			},
			OnEndWithStreamOutput: func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[*tool.CallbackOutput]) context.Context {
				if h.OnToolResult == nil || info == nil {
					output.Close()
					return ctx
				}
				name := info.Name
				go func() {
					defer output.Close()
					var b strings.Builder
					for {
						chunk, err := output.Recv()
						if errors.Is(err, io.EOF) {
							break
						}
						if err != nil {
							h.OnToolResult(name, b.String(), err)
							return
						}
						if chunk != nil {
							b.WriteString(chunk.Response)
						}
					}
					h.OnToolResult(name, b.String(), nil)
				}()
				return ctx
			},
			OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
				if h.OnToolResult != nil && info != nil {
					h.OnToolResult(info.Name, "", err)
				}
				return ctx
			},
		}).
		Handler()
}

type transcriptKey struct{}

// transcript 记录本轮最后一次重写后的 agent 状态，以及期间是否发生过压缩。
type transcript struct {
	mu        sync.Mutex
	last      []*schema.Message
	compacted bool
}

func withTranscript(ctx context.Context, tr *transcript) context.Context {
	return context.WithValue(ctx, transcriptKey{}, tr)
}

func transcriptFrom(ctx context.Context) *transcript {
	tr, _ := ctx.Value(transcriptKey{}).(*transcript)
	return tr
}

func (t *transcript) record(state []*schema.Message, compacted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = append([]*schema.Message(nil), state...)
	if compacted {
		t.compacted = true
	}
}

func (t *transcript) snapshot() ([]*schema.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.compacted
}

type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *threadLocks) lock(threadID string) func() {
	l.mu.Lock()
	m, ok := l.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[threadID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
