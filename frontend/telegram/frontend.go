package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	relay "github.com/nevindra/relay"
)

// Frontend bridges Telegram chats and the orchestrator: each incoming
// message becomes a task, and the task's event stream is folded into one
// chat message that is edited in place as the task progresses.
type Frontend struct {
	orch   *relay.Orchestrator
	b      *bot.Bot
	logger *slog.Logger

	// allowedUserID restricts the bot to one Telegram user. Empty allows
	// everyone.
	allowedUserID string

	mu       sync.Mutex
	lastTask map[int64]string // chatID → most recent task id
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Frontend) { f.logger = l }
}

// WithAllowedUser restricts the bot to a single Telegram user id.
func WithAllowedUser(id string) Option {
	return func(f *Frontend) { f.allowedUserID = id }
}

// New creates a Frontend on a bot token.
func New(token string, orch *relay.Orchestrator, opts ...Option) (*Frontend, error) {
	f := &Frontend{
		orch:     orch,
		logger:   slog.Default(),
		lastTask: make(map[int64]string),
	}
	for _, o := range opts {
		o(f)
	}
	b, err := bot.New(token, bot.WithDefaultHandler(f.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	f.b = b
	return f, nil
}

// Run starts long polling until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) {
	f.logger.Info("telegram frontend started")
	f.b.Start(ctx)
}

func (f *Frontend) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	if f.allowedUserID != "" && (msg.From == nil || strconv.FormatInt(msg.From.ID, 10) != f.allowedUserID) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/approve "):
		f.resolve(ctx, msg.Chat.ID, strings.TrimSpace(strings.TrimPrefix(text, "/approve ")), relay.DecisionApproved)
	case strings.HasPrefix(text, "/deny "):
		f.resolve(ctx, msg.Chat.ID, strings.TrimSpace(strings.TrimPrefix(text, "/deny ")), relay.DecisionDenied)
	case text == "/cancel":
		f.cancelLast(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/"):
		f.send(ctx, msg.Chat.ID, "Unknown command. Send a prompt, or /approve &lt;id&gt;, /deny &lt;id&gt;, /cancel.")
	default:
		f.startTask(ctx, msg, text)
	}
}

func (f *Frontend) resolve(ctx context.Context, chatID int64, callID string, d relay.Decision) {
	if f.orch.Approvals().Resolve(callID, d) {
		f.send(ctx, chatID, string(d)+": <code>"+htmlEscape(callID)+"</code>")
	} else {
		f.send(ctx, chatID, "Approval unknown or already resolved.")
	}
}

func (f *Frontend) cancelLast(ctx context.Context, chatID int64) {
	f.mu.Lock()
	taskID := f.lastTask[chatID]
	f.mu.Unlock()
	if taskID == "" {
		f.send(ctx, chatID, "Nothing to cancel.")
		return
	}
	if err := f.orch.Cancel(taskID); err != nil {
		f.send(ctx, chatID, "Cancel failed: "+htmlEscape(err.Error()))
		return
	}
	f.send(ctx, chatID, "Cancelled <code>"+htmlEscape(taskID)+"</code>.")
}

func (f *Frontend) startTask(ctx context.Context, msg *models.Message, prompt string) {
	chatID := msg.Chat.ID
	requester := ""
	if msg.From != nil {
		requester = strconv.FormatInt(msg.From.ID, 10)
	}

	t := f.orch.Create(context.WithoutCancel(ctx), prompt, requester, strconv.FormatInt(chatID, 10))
	f.mu.Lock()
	f.lastTask[chatID] = t.ID
	f.mu.Unlock()

	sent, err := f.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      "⏳ Thinking...",
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		f.logger.Error("telegram send failed", "chat", chatID, "error", err)
		return
	}

	go f.follow(t, chatID, sent.ID)
}

// follow folds the task's event stream and edits the progress message in
// place. The subscriber callback never blocks; events are handed off to
// this goroutine through a channel.
func (f *Frontend) follow(t *relay.Task, chatID int64, messageID int) {
	ch := make(chan relay.TaskEvent, 256)
	unsub := f.orch.Subscribe(t.ID, func(ev relay.TaskEvent) error {
		select {
		case ch <- ev:
			return nil
		default:
			return fmt.Errorf("telegram follower overrun")
		}
	})
	if unsub != nil {
		defer unsub()
	}

	ctx := context.Background()
	view := relay.NewTaskView()
	render := func() {
		_, err := f.b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: messageID,
			Text:      RenderView(view),
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			f.logger.Warn("telegram edit failed", "chat", chatID, "error", err)
		}
	}

	for {
		select {
		case ev := <-ch:
			view = relay.Reduce(view, ev)
			render()
			if relay.IsTerminalEvent(ev.Type) {
				return
			}
		case <-t.Done():
			// Drain buffered events, then render the final state.
			for {
				select {
				case ev := <-ch:
					view = relay.Reduce(view, ev)
				default:
					if t.Status() == relay.StatusCancelled {
						view.StatusMessage = "Cancelled"
					}
					render()
					return
				}
			}
		}
	}
}

func (f *Frontend) send(ctx context.Context, chatID int64, html string) {
	_, err := f.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      html,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		f.logger.Error("telegram send failed", "chat", chatID, "error", err)
	}
}
