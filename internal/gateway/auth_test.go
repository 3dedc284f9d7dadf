package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
	assert.False(t, safeEqual("", "secret"))
}

// --- newOperatorAuth tests ---

func TestNewOperatorAuth(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.GatewayAuth
		wantMode   string
		wantSecret string
	}{
		{"token from config", config.GatewayAuth{Mode: AuthToken, Token: "cfg-token"}, AuthToken, "cfg-token"},
		{"password from config", config.GatewayAuth{Mode: AuthPassword, Password: "cfg-pass"}, AuthPassword, "cfg-pass"},
		{"token mode by default", config.GatewayAuth{Token: "t"}, AuthToken, "t"},
		{"password mode when a password is set", config.GatewayAuth{Password: "p"}, AuthPassword, "p"},
		{"none keeps no secret", config.GatewayAuth{Mode: AuthNone, Token: "t"}, AuthNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newOperatorAuth(tt.cfg)
			assert.Equal(t, tt.wantMode, a.mode)
			assert.Equal(t, tt.wantSecret, a.secret)
		})
	}
}

func TestNewOperatorAuth_Environment(t *testing.T) {
	t.Setenv("MASITAPREX_GATEWAY_TOKEN", "env-token")
	t.Setenv("MASITAPREX_GATEWAY_PASSWORD", "env-pass")

	assert.Equal(t, "env-token", newOperatorAuth(config.GatewayAuth{Mode: AuthToken}).secret)
	assert.Equal(t, "env-pass", newOperatorAuth(config.GatewayAuth{Mode: AuthPassword}).secret)
	assert.Equal(t, "cfg-token", newOperatorAuth(config.GatewayAuth{Mode: AuthToken, Token: "cfg-token"}).secret)
	// the env password switches an unset mode to password
	assert.Equal(t, AuthPassword, newOperatorAuth(config.GatewayAuth{}).mode)
}

// --- check tests ---

func TestOperatorAuthCheck(t *testing.T) {
	token := operatorAuth{mode: AuthToken, secret: "secret"}
	password := operatorAuth{mode: AuthPassword, secret: "pass123"}

	tests := []struct {
		name       string
		auth       operatorAuth
		creds      *Credentials
		wantOK     bool
		wantReason string
	}{
		{"token accepted", token, &Credentials{Token: "secret"}, true, ""},
		{"token mismatch", token, &Credentials{Token: "wrong"}, false, "token_mismatch"},
		{"token missing", token, &Credentials{Password: "secret"}, false, "token required"},
		{"password accepted", password, &Credentials{Password: "pass123"}, true, ""},
		{"password mismatch", password, &Credentials{Password: "wrong"}, false, "password_mismatch"},
		{"password missing", password, &Credentials{Token: "pass123"}, false, "password required"},
		{"no credentials", token, nil, false, "no credentials provided"},
		{"operator token unset", operatorAuth{mode: AuthToken}, &Credentials{Token: "x"}, false, "operator token not configured"},
		{"unknown mode", operatorAuth{mode: "oauth"}, &Credentials{Token: "x"}, false, "unknown auth mode: oauth"},
		{"none", operatorAuth{mode: AuthNone}, nil, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.auth.check(tt.creds)
			assert.Equal(t, tt.wantOK, v.OK)
			assert.Equal(t, tt.wantReason, v.Reason)
			if v.OK {
				assert.Equal(t, tt.auth.mode, v.Mode)
			}
		})
	}
}

// --- bearerCredentials tests ---

func TestBearerCredentials(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   *Credentials
	}{
		{"bearer", "Bearer abc", &Credentials{Token: "abc", Password: "abc"}},
		{"lowercase scheme", "bearer  abc ", &Credentials{Token: "abc", Password: "abc"}},
		{"missing", "", nil},
		{"basic scheme", "Basic dXNlcjpwYXNz", nil},
		{"empty secret", "Bearer  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerCredentials(req))
		})
	}
}

// --- checkWebSocketOrigin tests ---

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest("GET", "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckWebSocketOrigin_NoOriginHeader(t *testing.T) {
	check := checkWebSocketOrigin(nil)
	assert.True(t, check(originRequest("")))
}

func TestCheckWebSocketOrigin_EmptyAllowedList(t *testing.T) {
	check := checkWebSocketOrigin(nil)
	assert.False(t, check(originRequest("http://evil.com")))
}

func TestCheckWebSocketOrigin_Wildcard(t *testing.T) {
	check := checkWebSocketOrigin([]string{"*"})
	assert.True(t, check(originRequest("http://anything.com")))
}

func TestCheckWebSocketOrigin_SpecificMatch(t *testing.T) {
	check := checkWebSocketOrigin([]string{"http://allowed.com"})
	assert.True(t, check(originRequest("http://allowed.com")))
}

func TestCheckWebSocketOrigin_SpecificNoMatch(t *testing.T) {
	check := checkWebSocketOrigin([]string{"http://allowed.com"})
	assert.False(t, check(originRequest("http://evil.com")))
}

func TestCheckWebSocketOrigin_MultipleAllowed(t *testing.T) {
	check := checkWebSocketOrigin([]string{"http://one.com", "http://two.com"})
	assert.True(t, check(originRequest("http://one.com")))
	assert.True(t, check(originRequest("http://two.com")))
	assert.False(t, check(originRequest("http://three.com")))
}
