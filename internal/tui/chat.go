package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/DataAgent/internal/agent"
	"github.com/wwwzy/DataAgent/internal/ui"
)

// HistoryLoader 可选：backend 实现它时，启动时展示线程已有的历史。
type HistoryLoader interface {
	History(ctx context.Context, threadID string) ([]*schema.Message, error)
}

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	ref := &programRef{}
	m := newChatModel(ctx, backend, opts, ref)
	if loader, ok := backend.(HistoryLoader); ok {
		if history, err := loader.History(ctx, opts.ThreadID); err == nil {
			m.entries = entriesFromHistory(history)
		}
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	ref.p = p
	_, err := p.Run()
	return err
}

// programRef 让后台的 agent 回调能把流式内容送回 Update 循环。
type programRef struct {
	p *tea.Program
}

func (r *programRef) send(msg tea.Msg) {
	if r != nil && r.p != nil {
		r.p.Send(msg)
	}
}

type entry struct {
	role    schema.RoleType
	title   string
	content string
	notice  bool
}

type chunkMsg struct{ content string }

type toolEventMsg struct {
	name    string
	content string
}

type turnDoneMsg struct {
	res *agent.TurnResult
	err error
}

type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions
	ref     *programRef

	entries []entry

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	// streamIdx 为正在流式输出的 assistant 条目下标，-1 表示没有。
	streamIdx int

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions, ref *programRef) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		ref:        ref,
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func entriesFromHistory(history []*schema.Message) []entry {
	out := make([]entry, 0, len(history))
	for _, m := range history {
		if m == nil || m.Role == schema.System {
			continue
		}
		switch {
		case m.Role == schema.Tool:
			out = append(out, entry{role: schema.Tool, title: m.ToolName, content: m.Content})
		case m.Role == schema.Assistant && len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				out = append(out, entry{role: schema.Tool, title: "call " + tc.Function.Name, content: tc.Function.Arguments})
			}
		case strings.TrimSpace(m.Content) != "":
			out = append(out, entry{role: m.Role, content: m.Content})
		}
	}
	return out
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case chunkMsg:
		if m.streamIdx < 0 {
			m.entries = append(m.entries, entry{role: schema.Assistant})
			m.streamIdx = len(m.entries) - 1
		}
		m.entries[m.streamIdx].content += msg.content
		m.updateViewportContent(m.renderChat())
		return m, nil

	case toolEventMsg:
		m.entries = append(m.entries, entry{role: schema.Tool, title: msg.name, content: msg.content})
		// 工具调用之后的输出属于新的 assistant 条目
		m.streamIdx = -1
		m.updateViewportContent(m.renderChat())
		return m, nil

	case turnDoneMsg:
		m.thinking = false
		switch {
		case msg.err != nil:
			m.entries = append(m.entries, entry{role: schema.Assistant, content: fmt.Sprintf("发生错误：%v", msg.err)})
		case msg.res != nil && msg.res.Answer != nil:
			if m.streamIdx >= 0 {
				m.entries[m.streamIdx].content = msg.res.Answer.Content
			} else if strings.TrimSpace(msg.res.Answer.Content) != "" {
				m.entries = append(m.entries, entry{role: schema.Assistant, content: msg.res.Answer.Content})
			}
			if msg.res.Compacted {
				m.entries = append(m.entries, entry{notice: true, content: "上下文已压缩"})
			}
		}
		m.streamIdx = -1
		m.followTail = true
		m.updateViewportContent(m.renderChat())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.thinking {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case "exit", "quit":
				return m, tea.Quit
			}

			m.entries = append(m.entries, entry{role: schema.User, content: text})
			m.followTail = true
			m.streamIdx = -1
			m.updateViewportContent(m.renderChat())

			m.input.SetValue("")
			m.thinking = true
			return m, tea.Batch(cmd, m.spinner.Tick, runTurn(m.ctx, m.backend, m.opts.ThreadID, text, m.ref))
		}

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// runTurn 在后台执行一轮对话，流式内容和工具事件通过 Program.Send 送回。
func runTurn(ctx context.Context, backend ui.ChatBackend, threadID, query string, ref *programRef) tea.Cmd {
	return func() tea.Msg {
		res, err := backend.Run(ctx, threadID, query, agent.Handlers{
			OnChunk: func(content string) {
				ref.send(chunkMsg{content: content})
			},
			OnToolCall: func(name, arguments string) {
				ref.send(toolEventMsg{name: "call " + name, content: arguments})
			},
			OnToolResult: func(name, result string, err error) {
				if err != nil {
					result = "Error: " + err.Error()
				}
				ref.send(toolEventMsg{name: name, content: result})
			},
		})
		return turnDoneMsg{res: res, err: err}
	}
}

func (m chatModel) View() string {
	title := "DataAgent Chat"
	if m.opts.ThreadID != "" {
		title += "  thread " + m.opts.ThreadID
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)

	chat := m.viewport.View()
	footer := m.footerView()

	return lipgloss.JoinVertical(lipgloss.Left, header, chat, m.inputView(), footer)
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Thinking..."
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView() string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for i, e := range m.entries {
		var line string
		switch {
		case e.notice:
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Italic(true).Render("— " + e.content + " —")
		case e.role == schema.User:
			line = m.renderUser(e.content)
		case e.role == schema.Assistant:
			// 流式输出中的条目不做 markdown 渲染，避免半截语法闪烁
			line = m.renderAssistant(e.content, i != m.streamIdx)
		default:
			line = m.renderTool(e.title, e.content)
		}
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	w := max(10, maxLineWidth(s))
	return min(m.bubbleMaxContentWidth(), w)
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		if w := lipgloss.Width(strings.TrimRight(line, " ")); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderAssistant(content string, markdown bool) string {
	md := strings.TrimRight(content, "\n")
	if strings.TrimSpace(md) == "" {
		md = "…"
	}
	if markdown && m.renderer != nil {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderTool(title, content string) string {
	label := "TOOL"
	if title != "" {
		label += " " + title
	}
	body := content
	if strings.TrimSpace(body) == "" {
		body = "(无输出)"
	}
	if len(body) > 1500 {
		body = body[:1500] + "...(truncated)"
	}
	body = m.wrapToWidth(body, m.desiredContentWidth(body))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Foreground(lipgloss.Color("245")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(label + "\n" + body)
}
