package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/wwwzy/DataAgent/internal/agent"
)

var (
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// 技能说明很长，不回显内容
var quietTools = map[string]bool{"use_skill": true}

const maxToolEcho = 1500

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	if u.In == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	if u.Out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	out := u.Out
	reader := bufio.NewReader(u.In)

	fmt.Fprintf(out, "进入 DataAgent 对话模式（thread: %s）。输入 exit/quit 退出。\n", opts.ThreadID)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("读取输入失败: %w", err)
		}
		eof := err != nil
		line = strings.TrimSpace(line)
		if line == "" {
			if eof {
				fmt.Fprintln(out)
				return nil
			}
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		}

		if err := RunOnce(ctx, backend, out, opts, line); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out, "已退出。")
				return nil
			}
			fmt.Fprintln(out, errorStyle.Render("发生错误: "+err.Error()))
		}
		fmt.Fprintln(out)
		if eof {
			return nil
		}
	}
}

// RunOnce 执行一轮对话并输出到 out：回复为绿色流式文本，工具调用为蓝色。
func RunOnce(ctx context.Context, backend ChatBackend, out io.Writer, opts ChatOptions, query string) error {
	h := agent.Handlers{
		OnToolCall: func(name, arguments string) {
			fmt.Fprintln(out, toolStyle.Render(fmt.Sprintf("\nToolCall: %s\nArgs: %s", name, arguments)))
		},
		OnToolResult: func(name, result string, err error) {
			text := "ToolName: " + name
			switch {
			case err != nil:
				text += "\nError: " + err.Error()
			case !quietTools[name]:
				text += "\nContent:\n" + clip(result, maxToolEcho)
			}
			fmt.Fprintln(out, toolStyle.Render(text))
		},
	}
	if !opts.Markdown {
		h.OnChunk = func(content string) {
			fmt.Fprint(out, answerStyle.Render(content))
		}
	}

	res, err := backend.Run(ctx, opts.ThreadID, query, h)
	if err != nil {
		return err
	}

	if opts.Markdown {
		fmt.Fprintln(out, renderMarkdown(answerText(res)))
	} else {
		fmt.Fprintln(out)
	}
	if res.Compacted {
		fmt.Fprintln(out, noticeStyle.Render("(上下文已压缩)"))
	}
	return nil
}

func answerText(res *agent.TurnResult) string {
	if res == nil || res.Answer == nil || strings.TrimSpace(res.Answer.Content) == "" {
		return "(无最终回复)"
	}
	return res.Answer.Content
}

func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(rendered, "\n")
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
