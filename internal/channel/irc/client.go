// Package irc posts escalation alerts to IRC channels using girc.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lrstanley/girc"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/channel"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

// maxLine keeps a PRIVMSG under the 512-byte protocol limit.
const maxLine = 400

var errNotConnected = errors.New("irc: not connected")

// Notifier implements channel.Notifier for IRC.
type Notifier struct {
	cfg config.IRCConfig
	log *logging.Logger

	mu      sync.RWMutex
	client  *girc.Client
	running bool
	lastErr string
}

// New creates an IRC notifier from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Notifier {
	return &Notifier{cfg: cfg, log: log.Sub("irc")}
}

func (n *Notifier) ID() string { return "irc" }

// Status returns the current runtime status.
func (n *Notifier) Status() channel.Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return channel.Status{
		ID:        "irc",
		Connected: n.client != nil && n.client.IsConnected(),
		Running:   n.running,
		LastError: n.lastErr,
	}
}

func (n *Notifier) port() int {
	if n.cfg.Port != 0 {
		return n.cfg.Port
	}
	if n.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (n *Notifier) clientConfig() girc.Config {
	cfg := girc.Config{
		Server:  n.cfg.Server,
		Port:    n.port(),
		Nick:    n.cfg.Nick,
		User:    n.cfg.Nick,
		Name:    "masitaprex escalation notifier",
		SSL:     n.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if n.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: n.cfg.Server}
	}
	if n.cfg.SASL && n.cfg.Password != "" {
		cfg.SASL = &girc.SASLPlain{User: n.cfg.Nick, Pass: n.cfg.Password}
	} else if n.cfg.Password != "" {
		cfg.ServerPass = n.cfg.Password
	}
	return cfg
}

// Start connects to the IRC server and joins the configured channels. It
// blocks until ctx ends or the connection drops.
func (n *Notifier) Start(ctx context.Context) error {
	client := girc.New(n.clientConfig())
	client.Handlers.Add(girc.CONNECTED, n.onConnected)
	client.Handlers.Add(girc.DISCONNECTED, n.onDisconnected)

	n.mu.Lock()
	n.client = client
	n.running = true
	n.lastErr = ""
	n.mu.Unlock()

	n.log.Info().
		Str("server", n.cfg.Server).
		Int("port", n.port()).
		Str("nick", n.cfg.Nick).
		Strs("channels", n.cfg.Channels).
		Bool("tls", n.cfg.UseTLS).
		Msg("connecting to IRC")

	// Connect blocks
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		n.mu.Lock()
		n.running = false
		if err != nil {
			n.lastErr = err.Error()
		}
		n.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		n.mu.Lock()
		n.running = false
		n.mu.Unlock()
		return ctx.Err()
	}
}

// Stop disconnects from the IRC server.
func (n *Notifier) Stop(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client != nil && n.client.IsConnected() {
		n.log.Info().Msg("disconnecting from IRC")
		n.client.Quit("masitaprex shutting down")
	}
	n.running = false
	return nil
}

// Notify posts text to every configured channel, one PRIVMSG per line.
func (n *Notifier) Notify(_ context.Context, text string) error {
	n.mu.RLock()
	client := n.client
	n.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return errNotConnected
	}
	if len(n.cfg.Channels) == 0 {
		return errors.New("irc: no channels configured")
	}

	lines := splitMessage(text, maxLine)
	for _, target := range n.cfg.Channels {
		for _, line := range lines {
			client.Cmd.Message(target, line)
		}
	}
	n.log.Debug().Strs("channels", n.cfg.Channels).Int("lines", len(lines)).Msg("sent IRC alert")
	return nil
}

func (n *Notifier) onConnected(c *girc.Client, _ girc.Event) {
	n.log.Info().Str("nick", c.GetNick()).Msg("connected to IRC")
	for _, ch := range n.cfg.Channels {
		n.log.Info().Str("channel", ch).Msg("joining channel")
		c.Cmd.Join(ch)
	}
}

func (n *Notifier) onDisconnected(_ *girc.Client, _ girc.Event) {
	n.log.Warn().Msg("disconnected from IRC")
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

// splitMessage breaks text into IRC lines. PRIVMSG cannot carry newlines,
// so each input line becomes its own chunk; blank lines are dropped and
// lines longer than maxLen are cut on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \r\t")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
