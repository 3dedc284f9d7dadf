// Package telegram posts escalation alerts to Telegram chats through the
// Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/channel"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// maxMessageRunes is the Bot API limit for one text message.
const maxMessageRunes = 4096

var errNoChats = errors.New("telegram: no chat ids configured")

// Notifier implements channel.Notifier for Telegram. It only sends; no
// updates are polled.
type Notifier struct {
	bot   *telego.Bot
	chats []int64
	log   *logging.Logger

	mu      sync.RWMutex
	running bool
	lastErr string
}

// New creates a Telegram notifier. opts are passed to telego, which is
// how tests point the bot at a local API server.
func New(cfg config.TelegramConfig, log *logging.Logger, opts ...telego.BotOption) (*Notifier, error) {
	opts = append([]telego.BotOption{telego.WithDiscardLogger()}, opts...)
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chats: cfg.ChatIDs, log: log.Sub("telegram")}, nil
}

func (n *Notifier) ID() string { return "telegram" }

// Status returns the current runtime status.
func (n *Notifier) Status() channel.Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return channel.Status{
		ID:        "telegram",
		Connected: n.running,
		Running:   n.running,
		LastError: n.lastErr,
	}
}

// Start marks the notifier running and blocks until ctx ends. The Bot API
// is stateless, so there is no connection to hold open.
func (n *Notifier) Start(ctx context.Context) error {
	n.setRunning(true)
	n.log.Info().Int("chats", len(n.chats)).Msg("telegram notifier ready")
	<-ctx.Done()
	n.setRunning(false)
	return nil
}

// Stop marks the notifier stopped.
func (n *Notifier) Stop(_ context.Context) error {
	n.setRunning(false)
	return nil
}

// Notify sends text to every configured chat. It returns the first error
// after trying all chats.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if len(n.chats) == 0 {
		return errNoChats
	}
	var firstErr error
	for _, chatID := range n.chats {
		for _, chunk := range chunk(text, maxMessageRunes) {
			if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
				n.log.Warn().Err(err).Int64("chat", chatID).Msg("telegram send failed")
				n.setErr(err)
				if firstErr == nil {
					firstErr = fmt.Errorf("telegram chat %d: %w", chatID, err)
				}
				break
			}
		}
	}
	return firstErr
}

func (n *Notifier) setRunning(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = v
}

func (n *Notifier) setErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastErr = err.Error()
}

// chunk splits s into pieces of at most max runes.
func chunk(s string, max int) []string {
	r := []rune(s)
	if len(r) <= max {
		return []string{s}
	}
	var out []string
	for len(r) > 0 {
		n := min(max, len(r))
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}
