package telegram

import (
	"strings"

	relay "github.com/nevindra/relay"
)

// RenderView formats a reduced task view as one Telegram HTML message.
// The same message is edited in place as events arrive, so the layout is
// stable: status line, tool results, pending approvals, final answer.
func RenderView(view relay.TaskView) string {
	var b strings.Builder

	switch view.Status {
	case relay.StatusFailed:
		b.WriteString("❌ <b>Failed</b>")
		if view.Error != "" {
			b.WriteString("\n<code>" + htmlEscape(view.Error) + "</code>")
		}
	case relay.StatusCompleted:
		b.WriteString("✅ <b>Completed</b>")
	default:
		b.WriteString("⏳ " + htmlEscape(view.StatusMessage))
	}

	if len(view.ToolResults) > 0 {
		b.WriteString("\n")
		for _, line := range view.ToolResults {
			b.WriteString("\n" + htmlEscape(line))
		}
	}

	for _, p := range view.PendingApprovals {
		b.WriteString("\n\n🔐 <b>" + htmlEscape(p.Preview.Title) + "</b>")
		if p.Preview.Details != "" {
			b.WriteString("\n" + htmlEscape(p.Preview.Details))
		}
		if p.Preview.Link != "" {
			b.WriteString("\n" + htmlEscape(p.Preview.Link))
		}
		b.WriteString("\nReply <code>/approve " + htmlEscape(p.ID) + "</code> or <code>/deny " + htmlEscape(p.ID) + "</code>")
	}

	if view.AgentMessage != "" {
		b.WriteString("\n\n" + MarkdownToHTML(view.AgentMessage))
	}

	return b.String()
}
