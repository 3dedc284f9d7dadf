package irc

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestNew(t *testing.T) {
	n := New(config.IRCConfig{Server: "irc.libera.chat", Nick: "masitabot", Channels: []string{"#soporte"}}, testLogger())
	assert.Equal(t, "irc", n.ID())
}

func TestStatus_NotStarted(t *testing.T) {
	status := New(config.IRCConfig{}, testLogger()).Status()
	assert.Equal(t, "irc", status.ID)
	assert.False(t, status.Connected)
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
}

func TestNotify_NotConnected(t *testing.T) {
	n := New(config.IRCConfig{Channels: []string{"#soporte"}}, testLogger())
	err := n.Notify(context.Background(), "hola")
	require.ErrorIs(t, err, errNotConnected)
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.IRCConfig
		port     int
		sasl     bool
		passWord string
	}{
		{"TLS defaults to 6697", config.IRCConfig{Server: "irc.test", Nick: "bot", UseTLS: true}, 6697, false, ""},
		{"plain defaults to 6667", config.IRCConfig{Server: "irc.test", Nick: "bot"}, 6667, false, ""},
		{"explicit port", config.IRCConfig{Server: "irc.test", Nick: "bot", Port: 7000}, 7000, false, ""},
		{"sasl", config.IRCConfig{Server: "irc.test", Nick: "bot", Password: "pw", SASL: true}, 6667, true, ""},
		{"server pass", config.IRCConfig{Server: "irc.test", Nick: "bot", Password: "pw"}, 6667, false, "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(tt.cfg, testLogger()).clientConfig()
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.sasl, cfg.SASL != nil)
			assert.Equal(t, tt.passWord, cfg.ServerPass)
			assert.Equal(t, tt.cfg.UseTLS, cfg.TLSConfig != nil)
		})
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, splitMessage("hello world", 400))

	alert := "*REENVÍO AUTOMÁTICO DE SOPORTE*\n\n*Cliente:* wa.me/519\n"
	assert.Equal(t, []string{"*REENVÍO AUTOMÁTICO DE SOPORTE*", "*Cliente:* wa.me/519"}, splitMessage(alert, 400))

	long := strings.Repeat("ñ", 30)
	chunks := splitMessage(long, 11)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, long, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 11)
		assert.True(t, utf8.ValidString(c))
	}

	assert.Empty(t, splitMessage("\n\n", 10))
}
