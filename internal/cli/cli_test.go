package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("TRUE"))
	assert.Equal(t, 3000, parseValue("3000"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "gemini", parseValue("gemini"))
}

func TestAPIClientDefaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Auth.Token = "tok"
	c := newAPIClient(cfg, "", "")
	assert.Equal(t, "http://127.0.0.1:3000", c.base)
	assert.Equal(t, "tok", c.secret)

	c = newAPIClient(cfg, "https://bot.example.com/", "override")
	assert.Equal(t, "https://bot.example.com", c.base)
	assert.Equal(t, "override", c.secret)
}

func TestAPIClientDo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "unauthorized", "message": "token_mismatch"}})
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "sessionId": body["sessionId"]})
	}))
	defer ts.Close()

	c := newAPIClient(config.Defaults(), ts.URL, "tok")
	var out map[string]any
	require.NoError(t, c.do(context.Background(), http.MethodPost, "/api/session/create", map[string]string{"sessionId": "s1"}, &out))
	assert.Equal(t, "s1", out["sessionId"])

	c.secret = "bad"
	err := c.do(context.Background(), http.MethodGet, "/api/sessions", nil, nil)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestPairingPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pairing{Status: "awaiting_pairing", Challenge: "2@abc,def"}.print(&buf))
	assert.Contains(t, buf.String(), "Status: awaiting_pairing")
	assert.Greater(t, len(buf.String()), 100, "a QR code is drawn")

	buf.Reset()
	require.NoError(t, pairing{Status: "awaiting_pairing", QR: "data:image/png;base64,AAA"}.print(&buf))
	assert.Contains(t, buf.String(), "data:image/png;base64,AAA")

	buf.Reset()
	require.NoError(t, pairing{Status: "connected"}.print(&buf))
	assert.Contains(t, buf.String(), "No pairing code pending.")
}

func TestBuildAppWiring(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Store.Path = filepath.Join(dir, "bot.db")
	cfg.Gateway.Auth = config.GatewayAuth{Mode: "token", Token: "tok"}
	cfg.Tenants = []domain.BusinessConfig{{TenantID: "masitaprex"}}
	p := config.Paths{Base: dir, Sessions: filepath.Join(dir, "sessions"), Data: dir}

	a, err := buildApp(context.Background(), cfg, p, testLogger())
	require.NoError(t, err)
	defer a.close()

	assert.True(t, a.tenants.Has("masitaprex"))
	assert.True(t, a.tenants.Has(cfg.Sessions.DefaultTenant), "the default tenant is created")

	_, err = a.sessions.Create(context.Background(), "s1", "masitaprex")
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable, "no bridge URL configured")

	req := httptest.NewRequest(http.MethodGet, "/api/tenant/masitaprex/config", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
