package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
)

// Auth modes.
const (
	AuthNone     = "none"
	AuthToken    = "token"
	AuthPassword = "password"
)

// Verdict is the outcome of checking operator credentials.
type Verdict struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// operatorAuth holds the operator secret for the configured mode. Config
// values win over MASITAPREX_GATEWAY_TOKEN and MASITAPREX_GATEWAY_PASSWORD.
type operatorAuth struct {
	mode   string
	secret string
}

func newOperatorAuth(cfg config.GatewayAuth) operatorAuth {
	token := cfg.Token
	if token == "" {
		token = os.Getenv("MASITAPREX_GATEWAY_TOKEN")
	}
	password := cfg.Password
	if password == "" {
		password = os.Getenv("MASITAPREX_GATEWAY_PASSWORD")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = AuthToken
		if password != "" {
			mode = AuthPassword
		}
	}
	switch mode {
	case AuthToken:
		return operatorAuth{mode: mode, secret: token}
	case AuthPassword:
		return operatorAuth{mode: mode, secret: password}
	default:
		return operatorAuth{mode: mode}
	}
}

// check verifies the credentials a console or API caller presented.
func (a operatorAuth) check(c *Credentials) Verdict {
	switch a.mode {
	case AuthNone:
		return Verdict{OK: true, Mode: AuthNone}
	case AuthToken, AuthPassword:
	default:
		return Verdict{Reason: "unknown auth mode: " + a.mode}
	}
	if a.secret == "" {
		return Verdict{Reason: "operator " + a.mode + " not configured"}
	}
	if c == nil {
		return Verdict{Reason: "no credentials provided"}
	}
	got := c.Token
	if a.mode == AuthPassword {
		got = c.Password
	}
	if got == "" {
		return Verdict{Reason: a.mode + " required"}
	}
	if !safeEqual(got, a.secret) {
		return Verdict{Reason: a.mode + "_mismatch"}
	}
	return Verdict{OK: true, Mode: a.mode}
}

// bearerCredentials reads `Authorization: Bearer <secret>`. The secret
// fills both fields so it works in either mode.
func bearerCredentials(r *http.Request) *Credentials {
	scheme, secret, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	secret = strings.TrimSpace(secret)
	if !ok || !strings.EqualFold(scheme, "bearer") || secret == "" {
		return nil
	}
	return &Credentials{Token: secret, Password: secret}
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
