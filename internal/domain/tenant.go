package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// InferenceBackend names a generative backend a tenant can route AI fallback to.
type InferenceBackend string

const (
	BackendLocalOnly InferenceBackend = "local-only"
	BackendGemini    InferenceBackend = "gemini"
	BackendOpenAI    InferenceBackend = "openai"
	BackendCohere    InferenceBackend = "cohere"
)

// ParseInferenceBackend accepts the canonical names plus "local" as an alias
// for local-only.
func ParseInferenceBackend(s string) (InferenceBackend, bool) {
	switch b := InferenceBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendLocalOnly, BackendGemini, BackendOpenAI, BackendCohere:
		return b, true
	case "local":
		return BackendLocalOnly, true
	}
	return "", false
}

// ResponseKind selects how a matched module answers.
type ResponseKind int

const (
	PlainText ResponseKind = iota
	MediaWithCaption
	HumanForward
)

var responseKindNames = [...]string{
	PlainText:        "plain_text",
	MediaWithCaption: "media_with_caption",
	HumanForward:     "human_forward",
}

func (k ResponseKind) String() string {
	if k < 0 || int(k) >= len(responseKindNames) {
		return fmt.Sprintf("ResponseKind(%d)", int(k))
	}
	return responseKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k ResponseKind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(responseKindNames) {
		return nil, fmt.Errorf("invalid response kind %d", int(k))
	}
	return []byte(responseKindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ResponseKind) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	if s == "" {
		*k = PlainText
		return nil
	}
	for i, name := range responseKindNames {
		if name == s {
			*k = ResponseKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown response kind %q", s)
}

// BusinessModule is a keyword-triggered response rule.
type BusinessModule struct {
	ID           string       `json:"id" yaml:"id"`
	Keywords     []string     `json:"keywords" yaml:"keywords"`
	ResponseKind ResponseKind `json:"responseKind" yaml:"responseKind"`
	Template     string       `json:"template" yaml:"template"`
	MediaURL     string       `json:"mediaUrl,omitempty" yaml:"mediaUrl,omitempty"`
	Amount       string       `json:"amount,omitempty" yaml:"amount,omitempty"`
	Credits      int          `json:"credits,omitempty" yaml:"credits,omitempty"`
}

// Package is a purchasable credit bundle keyed by its price.
type Package struct {
	Credits  int    `json:"credits" yaml:"credits"`
	MediaURL string `json:"mediaUrl" yaml:"mediaUrl"`
}

// Replies holds the fixed customer-facing texts of a tenant.
type Replies struct {
	Welcome         string `json:"welcome,omitempty" yaml:"welcome,omitempty"`
	PaymentTemplate string `json:"paymentTemplate,omitempty" yaml:"paymentTemplate,omitempty"`
	PaymentAck      string `json:"paymentAck,omitempty" yaml:"paymentAck,omitempty"`
	Gift            string `json:"gift,omitempty" yaml:"gift,omitempty"`
	Escalation      string `json:"escalation,omitempty" yaml:"escalation,omitempty"`
	HumanForward    string `json:"humanForward,omitempty" yaml:"humanForward,omitempty"`
	MediaApology    string `json:"mediaApology,omitempty" yaml:"mediaApology,omitempty"`
	CallRejected    string `json:"callRejected,omitempty" yaml:"callRejected,omitempty"`
	Unsupported     string `json:"unsupported,omitempty" yaml:"unsupported,omitempty"`
	ManualReplyAck  string `json:"manualReplyAck,omitempty" yaml:"manualReplyAck,omitempty"`
}

// BusinessConfig is the complete configuration of one tenant. Values handed
// out by the tenant store are snapshots and must not be mutated in place.
type BusinessConfig struct {
	TenantID               string                      `json:"tenantId" yaml:"id"`
	ActiveInferenceBackend InferenceBackend            `json:"activeInferenceBackend" yaml:"activeInferenceBackend"`
	SecondaryBackend       InferenceBackend            `json:"secondaryInferenceBackend,omitempty" yaml:"secondaryInferenceBackend,omitempty"`
	Paused                 bool                        `json:"paused" yaml:"paused,omitempty"`
	Modules                []BusinessModule            `json:"modules" yaml:"modules,omitempty"`
	Packages               map[string]Package          `json:"packages" yaml:"packages,omitempty"`
	AdminRoster            []string                    `json:"adminRoster" yaml:"adminRoster,omitempty"`
	WebhookTarget          string                      `json:"webhookTarget,omitempty" yaml:"webhookTarget,omitempty"`
	SystemPrompt           string                      `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	BackendPrompts         map[InferenceBackend]string `json:"backendPrompts,omitempty" yaml:"backendPrompts,omitempty"`
	LocalAnswers           map[string][]string         `json:"localAnswers,omitempty" yaml:"localAnswers,omitempty"`
	SimilarityMatching     bool                        `json:"similarityMatching,omitempty" yaml:"similarityMatching,omitempty"`
	SimilarityThreshold    float64                     `json:"similarityThreshold,omitempty" yaml:"similarityThreshold,omitempty"`
	WelcomeWindowHours     int                         `json:"welcomeWindowHours,omitempty" yaml:"welcomeWindowHours,omitempty"`
	GreetingTokens         []string                    `json:"greetingTokens,omitempty" yaml:"greetingTokens,omitempty"`
	PaymentPhrases         []string                    `json:"paymentPhrases,omitempty" yaml:"paymentPhrases,omitempty"`
	FirstPurchaseBonus     int                         `json:"firstPurchaseBonus,omitempty" yaml:"firstPurchaseBonus,omitempty"`
	RepeatPurchaseBonus    int                         `json:"repeatPurchaseBonus,omitempty" yaml:"repeatPurchaseBonus,omitempty"`
	Replies                Replies                     `json:"replies" yaml:"replies,omitempty"`
	UpdatedAt              time.Time                   `json:"updatedAt" yaml:"-"`
}

// WelcomeWindow returns the inactivity gap after which a welcome is due.
func (c *BusinessConfig) WelcomeWindow() time.Duration {
	return time.Duration(c.WelcomeWindowHours) * time.Hour
}

// IsAdmin reports whether sender is on the admin roster. Roster entries may
// be bare numbers or full addresses.
func (c *BusinessConfig) IsAdmin(sender string) bool {
	if sender == "" {
		return false
	}
	num := PhoneNumber(sender)
	for _, a := range c.AdminRoster {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == sender || PhoneNumber(a) == num {
			return true
		}
	}
	return false
}

// PromptFor returns the system prompt for a backend, falling back to the
// shared one.
func (c *BusinessConfig) PromptFor(b InferenceBackend) string {
	if p := c.BackendPrompts[b]; p != "" {
		return p
	}
	return c.SystemPrompt
}

// Clone returns a deep copy.
func (c BusinessConfig) Clone() BusinessConfig {
	out := c
	out.Modules = make([]BusinessModule, len(c.Modules))
	for i, m := range c.Modules {
		m.Keywords = slices.Clone(m.Keywords)
		out.Modules[i] = m
	}
	out.Packages = maps.Clone(c.Packages)
	out.AdminRoster = slices.Clone(c.AdminRoster)
	out.BackendPrompts = maps.Clone(c.BackendPrompts)
	out.GreetingTokens = slices.Clone(c.GreetingTokens)
	out.PaymentPhrases = slices.Clone(c.PaymentPhrases)
	if c.LocalAnswers != nil {
		out.LocalAnswers = make(map[string][]string, len(c.LocalAnswers))
		for k, v := range c.LocalAnswers {
			out.LocalAnswers[k] = slices.Clone(v)
		}
	}
	return out
}

// Validate reports configuration that would leave a rule unreachable or a
// resolution path unable to answer.
func (c *BusinessConfig) Validate() error {
	var errs []error
	bad := func(path, msg string) {
		errs = append(errs, &ConfigInconsistentError{TenantID: c.TenantID, Path: path, Message: msg})
	}

	if strings.TrimSpace(c.TenantID) == "" {
		bad("id", "tenant id is required")
	}
	if c.ActiveInferenceBackend != "" {
		if _, ok := ParseInferenceBackend(string(c.ActiveInferenceBackend)); !ok {
			bad("activeInferenceBackend", fmt.Sprintf("unknown backend %q", c.ActiveInferenceBackend))
		}
	}
	if c.SecondaryBackend != "" {
		if _, ok := ParseInferenceBackend(string(c.SecondaryBackend)); !ok {
			bad("secondaryInferenceBackend", fmt.Sprintf("unknown backend %q", c.SecondaryBackend))
		}
	}

	seen := make(map[string]bool, len(c.Modules))
	for i, m := range c.Modules {
		path := fmt.Sprintf("modules[%d]", i)
		if m.ID == "" {
			bad(path+".id", "module id is required")
		} else if seen[m.ID] {
			bad(path+".id", fmt.Sprintf("duplicate module id %q", m.ID))
		}
		seen[m.ID] = true

		live := 0
		for _, k := range m.Keywords {
			if strings.TrimSpace(k) != "" {
				live++
			}
		}
		if live == 0 {
			bad(path+".keywords", "module has no keywords and can never match")
		}
		if m.ResponseKind == MediaWithCaption && m.MediaURL == "" {
			bad(path+".mediaUrl", "media_with_caption module needs a media url")
		}
		if m.ResponseKind < PlainText || m.ResponseKind > HumanForward {
			bad(path+".responseKind", "unknown response kind")
		}
	}

	for key, p := range c.Packages {
		if strings.TrimSpace(key) == "" {
			bad("packages", "package key is empty")
		}
		if p.Credits <= 0 {
			bad("packages."+key+".credits", "credits must be positive")
		}
		if strings.TrimSpace(p.MediaURL) == "" {
			bad("packages."+key+".mediaUrl", "package needs a payment media url")
		}
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		bad("similarityThreshold", "must be between 0 and 1")
	}
	if c.WelcomeWindowHours < 0 {
		bad("welcomeWindowHours", "must not be negative")
	}

	return errors.Join(errs...)
}
