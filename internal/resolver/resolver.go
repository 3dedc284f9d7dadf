// Package resolver turns one inbound customer message into exactly one
// response action by walking the fallback chain: admin command, pause,
// payment confirmation, package selection, business modules, local answers,
// AI primary, AI secondary, escalation.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/conversation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/tenant"
)

// Strategy names the link of the chain that produced an action.
type Strategy string

const (
	StrategyAdmin       Strategy = "admin"
	StrategyPaused      Strategy = "paused"
	StrategyPayment     Strategy = "payment_confirmation"
	StrategyPackage     Strategy = "package_selection"
	StrategyModule      Strategy = "business_module"
	StrategyLocalAnswer Strategy = "local_answer"
	StrategyAIPrimary   Strategy = "ai_primary"
	StrategyAISecondary Strategy = "ai_secondary"
	StrategyEscalation  Strategy = "escalation"
)

// DefaultTimeout bounds a single inference call.
const DefaultTimeout = 20 * time.Second

const historyMarker = "\n\nHistorial de conversación:\n"

// failurePhrases flag a backend answer as unusable.
var failurePhrases = []string{
	"no pude encontrar una respuesta",
	"Lo siento, no pude procesar el audio",
	"Lo siento, no pude analizar esa imagen",
}

// Reply is one outbound unit. When Media is set, Text is its caption and
// both are delivered together.
type Reply struct {
	Text  string
	Media *domain.Media
}

// Action is the outcome of resolving one message. Replies are sent in
// order; an empty list means the message is deliberately left unanswered.
type Action struct {
	Strategy Strategy
	Replies  []Reply
	ModuleID string
	Backend  domain.InferenceBackend
}

// Silent reports whether the action sends nothing.
func (a Action) Silent() bool { return len(a.Replies) == 0 }

// Request is one inbound message to resolve.
type Request struct {
	SessionID string
	TenantID  string
	Sender    string
	Body      string
	Now       time.Time
	// Touched carries the conversation touch already recorded for this
	// message. When nil the resolver records it.
	Touched *conversation.Touch
}

// TenantSource hands out tenant config snapshots.
type TenantSource interface {
	Get(id string) (domain.BusinessConfig, error)
}

// Backends looks up a text inference client by backend name.
type Backends interface {
	Get(name string) (llm.Client, bool)
}

// MediaFetcher downloads media referenced by the tenant config.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string, kind domain.MediaKind) (*domain.Media, error)
}

// Escalator forwards a message to human operators. It never fails.
type Escalator interface {
	Escalate(ctx context.Context, e domain.Escalation)
}

// Commander executes admin commands and returns the reply text.
type Commander interface {
	HandleCommand(ctx context.Context, sessionID string, cfg domain.BusinessConfig, sender, body string) string
}

// Options wires the resolver's collaborators.
type Options struct {
	Tenants   TenantSource
	Tracker   *conversation.Tracker
	Backends  Backends
	Media     MediaFetcher
	Escalator Escalator
	Admin     Commander
	// Timeout bounds each inference call; zero uses DefaultTimeout.
	Timeout time.Duration
	// Pick chooses among n local answer variants. Defaults to rand.IntN.
	Pick func(n int) int
}

// Resolver runs the fallback chain. It is safe for concurrent use across
// sessions; messages of one session must be resolved in arrival order.
type Resolver struct {
	opts Options
	log  *logging.Logger
}

// New creates a resolver.
func New(opts Options, log *logging.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	return &Resolver{opts: opts, log: log.Sub("resolver")}
}

// Resolve handles one inbound message. The conversation state is touched
// exactly once before any strategy runs, here or by the caller. The only error is an unknown
// tenant; every other failure is absorbed by the chain.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Action, error) {
	cfg, err := r.opts.Tenants.Get(req.TenantID)
	if err != nil {
		return Action{}, fmt.Errorf("resolving message for tenant %s: %w", req.TenantID, err)
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	key := conversation.Key{SessionID: req.SessionID, CustomerID: domain.PhoneNumber(req.Sender)}
	var touch conversation.Touch
	if req.Touched != nil {
		touch = *req.Touched
	} else {
		touch = r.opts.Tracker.Touch(key, req.Now, cfg.WelcomeWindow())
	}

	body := strings.TrimSpace(req.Body)
	norm := Normalize(body)
	log := r.log.With("session", req.SessionID)

	if cfg.IsAdmin(req.Sender) && strings.HasPrefix(body, "/") && r.opts.Admin != nil {
		text := r.opts.Admin.HandleCommand(ctx, req.SessionID, cfg, req.Sender, body)
		return Action{Strategy: StrategyAdmin, Replies: []Reply{{Text: text}}}, nil
	}
	if cfg.Paused {
		log.Debug().Str("from", key.CustomerID).Msg("tenant paused, not replying")
		return Action{Strategy: StrategyPaused}, nil
	}

	c := &chain{r: r, cfg: &cfg, req: req, key: key, body: body, norm: norm, log: log}
	action := c.run(ctx)

	if touch.FirstInWindow && !containsAny(norm, cfg.GreetingTokens) && cfg.Replies.Welcome != "" {
		action.Replies = append([]Reply{{Text: cfg.Replies.Welcome}}, action.Replies...)
	}
	log.Info().
		Str("from", key.CustomerID).
		Str("strategy", string(action.Strategy)).
		Int("replies", len(action.Replies)).
		Msg("message resolved")
	return action, nil
}

// chain holds the state of a single resolution against one tenant snapshot.
type chain struct {
	r    *Resolver
	cfg  *domain.BusinessConfig
	req  Request
	key  conversation.Key
	body string
	norm string
	log  *logging.Logger
}

func (c *chain) run(ctx context.Context) Action {
	if containsAny(c.norm, c.cfg.PaymentPhrases) {
		return c.payment(ctx)
	}

	if key, ok := matchPackage(c.norm, c.cfg.Packages); ok {
		if a, ok := c.pkg(ctx, key); ok {
			return a
		}
		return c.ai(ctx)
	}

	if i := matchModule(c.norm, c.cfg); i >= 0 {
		if a, ok := c.module(ctx, c.cfg.Modules[i]); ok {
			return a
		}
		return c.ai(ctx)
	}

	if a, ok := c.localAnswer(); ok {
		return a
	}
	return c.ai(ctx)
}

func (c *chain) payment(ctx context.Context) Action {
	prev := c.r.opts.Tracker.RecordPurchase(c.key)
	bonus := c.cfg.FirstPurchaseBonus
	if prev > 0 {
		bonus = c.cfg.RepeatPurchaseBonus
	}
	c.escalate(ctx, domain.EscalationPayment)

	gift := render(c.cfg.Replies.Gift, "", bonus)
	text := strings.TrimSpace(c.cfg.Replies.PaymentAck + "\n\n" + gift)
	return Action{Strategy: StrategyPayment, Replies: []Reply{{Text: text}}}
}

func (c *chain) pkg(ctx context.Context, key string) (Action, bool) {
	p, ok := c.cfg.Packages[key]
	if !ok || p.MediaURL == "" {
		c.inconsistent("packages."+key+".mediaUrl", "package has no media")
		return Action{}, false
	}
	caption := render(c.cfg.Replies.PaymentTemplate, key, p.Credits)
	return c.mediaReply(ctx, StrategyPackage, p.MediaURL, caption), true
}

func (c *chain) module(ctx context.Context, m domain.BusinessModule) (Action, bool) {
	switch m.ResponseKind {
	case domain.PlainText:
		text := render(m.Template, m.Amount, m.Credits)
		if strings.TrimSpace(text) == "" {
			c.inconsistent("modules."+m.ID+".template", "plain text module has no template")
			return Action{}, false
		}
		return Action{Strategy: StrategyModule, ModuleID: m.ID, Replies: []Reply{{Text: text}}}, true

	case domain.MediaWithCaption:
		if m.MediaURL == "" {
			c.inconsistent("modules."+m.ID+".mediaUrl", "media module has no media url")
			return Action{}, false
		}
		a := c.mediaReply(ctx, StrategyModule, m.MediaURL, render(m.Template, m.Amount, m.Credits))
		a.ModuleID = m.ID
		return a, true

	case domain.HumanForward:
		c.escalate(ctx, domain.EscalationHumanForward)
		return Action{Strategy: StrategyModule, ModuleID: m.ID, Replies: []Reply{{Text: c.cfg.Replies.HumanForward}}}, true
	}

	c.inconsistent("modules."+m.ID+".responseKind", "unknown response kind "+strconv.Itoa(int(m.ResponseKind)))
	return Action{}, false
}

// mediaReply fetches url and pairs it with caption. A failed fetch answers
// with the tenant's apology instead; the caption is never sent alone.
func (c *chain) mediaReply(ctx context.Context, s Strategy, url, caption string) Action {
	if c.r.opts.Media == nil {
		c.log.Warn().Str("url", url).Msg("no media fetcher configured")
		return Action{Strategy: s, Replies: []Reply{{Text: c.cfg.Replies.MediaApology}}}
	}
	m, err := c.r.opts.Media.Fetch(ctx, url, domain.MediaImage)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("media fetch failed")
		return Action{Strategy: s, Replies: []Reply{{Text: c.cfg.Replies.MediaApology}}}
	}
	return Action{Strategy: s, Replies: []Reply{{Text: caption, Media: m}}}
}

func (c *chain) localAnswer() (Action, bool) {
	var variants []string
	for _, v := range c.cfg.LocalAnswers[c.norm] {
		if strings.TrimSpace(v) != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return Action{}, false
	}
	text := variants[c.r.opts.Pick(len(variants))]
	return Action{Strategy: StrategyLocalAnswer, Replies: []Reply{{Text: text}}}, true
}

func (c *chain) ai(ctx context.Context) Action {
	primary := c.cfg.ActiveInferenceBackend
	if primary == "" || primary == domain.BackendLocalOnly {
		return c.escalation(ctx)
	}

	text, err := c.infer(ctx, primary)
	if err == nil {
		return Action{Strategy: StrategyAIPrimary, Backend: primary, Replies: []Reply{{Text: text}}}
	}
	c.log.Warn().Err(err).Msg("primary backend failed")

	if secondary := secondaryFor(c.cfg); secondary != "" {
		text, err = c.infer(ctx, secondary)
		if err == nil {
			return Action{Strategy: StrategyAISecondary, Backend: secondary, Replies: []Reply{{Text: text}}}
		}
		c.log.Warn().Err(err).Msg("secondary backend failed")
	}
	return c.escalation(ctx)
}

// secondaryFor picks the backend tried once after the primary fails. An
// explicit tenant setting wins; otherwise gemini backs up openai and cohere,
// and openai backs up gemini.
func secondaryFor(cfg *domain.BusinessConfig) domain.InferenceBackend {
	primary := cfg.ActiveInferenceBackend
	if s := cfg.SecondaryBackend; s != "" {
		if s == primary || s == domain.BackendLocalOnly {
			return ""
		}
		return s
	}
	switch primary {
	case domain.BackendOpenAI, domain.BackendCohere:
		return domain.BackendGemini
	case domain.BackendGemini:
		return domain.BackendOpenAI
	}
	return ""
}

// Prompt assembles the text sent to a backend: system instructions, the
// history marker, then the user turn.
func Prompt(system, body string) string {
	return system + historyMarker + "Usuario: " + body
}

func (c *chain) infer(ctx context.Context, backend domain.InferenceBackend) (string, error) {
	client, ok := c.r.opts.Backends.Get(string(backend))
	if !ok {
		return "", &domain.InferenceError{Backend: string(backend), Reason: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.r.opts.Timeout)
	defer cancel()

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: Prompt(c.cfg.PromptFor(backend), c.body)}},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrInferenceTimeout, err)
		}
		return "", &domain.InferenceError{Backend: string(backend), Reason: "request failed", Err: err}
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", &domain.InferenceError{Backend: string(backend), Reason: "empty answer"}
	}
	for _, p := range failurePhrases {
		if strings.Contains(text, p) {
			return "", &domain.InferenceError{Backend: string(backend), Reason: "error-flagged answer"}
		}
	}
	return text, nil
}

func (c *chain) escalation(ctx context.Context) Action {
	c.escalate(ctx, domain.EscalationFallback)
	text := c.cfg.Replies.Escalation
	if strings.TrimSpace(text) == "" {
		text = tenant.DefaultReplies.Escalation
	}
	return Action{Strategy: StrategyEscalation, Replies: []Reply{{Text: text}}}
}

func (c *chain) escalate(ctx context.Context, reason domain.EscalationReason) {
	if c.r.opts.Escalator == nil {
		c.log.Warn().Str("reason", string(reason)).Msg("no escalator configured")
		return
	}
	c.r.opts.Escalator.Escalate(ctx, domain.Escalation{
		SessionID:     c.req.SessionID,
		TenantID:      c.cfg.TenantID,
		Customer:      c.key.CustomerID,
		Message:       c.body,
		Reason:        reason,
		AdminRoster:   c.cfg.AdminRoster,
		WebhookTarget: c.cfg.WebhookTarget,
	})
}

func (c *chain) inconsistent(path, msg string) {
	err := &domain.ConfigInconsistentError{TenantID: c.cfg.TenantID, Path: path, Message: msg}
	c.log.Warn().Err(err).Msg("config cannot serve this path, falling back to AI")
}
