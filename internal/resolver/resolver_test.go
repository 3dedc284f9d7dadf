package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/conversation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/tenant"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- fakes ---

type fakeTenants struct {
	mu   sync.Mutex
	cfgs map[string]domain.BusinessConfig
}

func (f *fakeTenants) Get(id string) (domain.BusinessConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.cfgs[id]
	if !ok {
		return domain.BusinessConfig{}, domain.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (f *fakeTenants) set(cfg domain.BusinessConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfgs[cfg.TenantID] = cfg
}

type fakeBackends map[string]llm.Client

func (f fakeBackends) Get(name string) (llm.Client, bool) {
	c, ok := f[name]
	return c, ok
}

type fakeFetcher struct {
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, kind domain.MediaKind) (*domain.Media, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Media{Kind: kind, Data: []byte("png"), MimeType: "image/png"}, nil
}

type fakeEscalator struct {
	mu   sync.Mutex
	seen []domain.Escalation
}

func (f *fakeEscalator) Escalate(_ context.Context, e domain.Escalation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, e)
}

func (f *fakeEscalator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// fakeCommander toggles pause on the shared tenant table like the admin
// processor does.
type fakeCommander struct {
	tenants *fakeTenants
}

func (f *fakeCommander) HandleCommand(_ context.Context, _ string, cfg domain.BusinessConfig, _, body string) string {
	switch body {
	case "/pause":
		cfg.Paused = true
	case "/resume":
		cfg.Paused = false
	default:
		return "unknown"
	}
	f.tenants.set(cfg)
	return "ok " + body
}

func replying(text string) llm.Client {
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: text}, nil
		},
	}
}

func failing(err error) llm.Client {
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, err
		},
	}
}

func hanging() llm.Client {
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

type harness struct {
	r        *Resolver
	tenants  *fakeTenants
	tracker  *conversation.Tracker
	fetcher  *fakeFetcher
	escalate *fakeEscalator
}

func baseConfig() domain.BusinessConfig {
	cfg := domain.BusinessConfig{
		TenantID:               "masitaprex",
		ActiveInferenceBackend: domain.BackendGemini,
		AdminRoster:            []string{"51900000001"},
		SystemPrompt:           "Eres un asistente.",
		Packages: map[string]domain.Package{
			"10":  {Credits: 60, MediaURL: "https://cdn.example/qr10.png"},
			"100": {Credits: 700, MediaURL: "https://cdn.example/qr100.png"},
		},
	}
	tenant.ApplyDefaults(&cfg)
	return cfg
}

func newHarness(t *testing.T, cfg domain.BusinessConfig, backends fakeBackends) *harness {
	t.Helper()
	h := &harness{
		tenants:  &fakeTenants{cfgs: map[string]domain.BusinessConfig{cfg.TenantID: cfg}},
		tracker:  conversation.NewTracker(nil, testLogger()),
		fetcher:  &fakeFetcher{},
		escalate: &fakeEscalator{},
	}
	h.r = New(Options{
		Tenants:   h.tenants,
		Tracker:   h.tracker,
		Backends:  backends,
		Media:     h.fetcher,
		Escalator: h.escalate,
		Admin:     &fakeCommander{tenants: h.tenants},
		Timeout:   50 * time.Millisecond,
		Pick:      func(int) int { return 0 },
	}, testLogger())
	return h
}

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func (h *harness) send(t *testing.T, from, body string, at time.Time) Action {
	t.Helper()
	a, err := h.r.Resolve(context.Background(), Request{
		SessionID: "s1", TenantID: "masitaprex", Sender: from + "@s.whatsapp.net", Body: body, Now: at,
	})
	require.NoError(t, err)
	return a
}

// lastText returns the final reply, skipping a leading welcome.
func lastText(a Action) string {
	if len(a.Replies) == 0 {
		return ""
	}
	return a.Replies[len(a.Replies)-1].Text
}

// --- matching ---

func TestSimilarity(t *testing.T) {
	score := Similarity("cómo pago", "cómo puedo pagar")
	assert.InDelta(t, 1.0/3.0, score, 1e-9)
	for range 5 {
		assert.Equal(t, score, Similarity("cómo pago", "cómo puedo pagar"))
	}

	assert.Equal(t, 1.0, Similarity("quiero comprar creditos ahora", "comprar creditos"))
	assert.Equal(t, 0.0, Similarity("anything", "a de la"))
	assert.Equal(t, 0.5, Similarity("precio del paquete", "precio oferta"))
}

func TestContainsPhraseBoundaries(t *testing.T) {
	assert.True(t, containsPhrase("quiero el paquete de 10 por favor", "paquete de 10"))
	assert.False(t, containsPhrase("quiero el paquete de 100", "paquete de 10"))
	assert.True(t, containsPhrase("pago s/10", "s/10"))
	assert.False(t, containsPhrase("", "x"))
}

func TestMatchPackage(t *testing.T) {
	pkgs := baseConfig().Packages
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{"10", "10", true},
		{"100", "100", true},
		{"quiero el paquete de 100", "100", true},
		{"package of 10", "10", true},
		{"te pago 10 soles", "10", true},
		{"s/ 100", "100", true},
		{"s/10", "10", true},
		{"tengo 10 preguntas", "", false},
		{"1000", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := matchPackage(Normalize(tt.body), pkgs)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderLegacyPlaceholders(t *testing.T) {
	assert.Equal(t, "S/20 -> 125 / S/20 -> 125", render("S/{{amount}} -> {{credits}} / S/{{monto}} -> {{creditos}}", "20", 125))
}

// --- chain ---

func TestScenarioA_PackageSelection(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})

	a := h.send(t, "51911111111", "10", t0)
	assert.Equal(t, StrategyPackage, a.Strategy)

	// welcome first, then exactly one media unit
	require.Len(t, a.Replies, 2)
	unit := a.Replies[1]
	require.NotNil(t, unit.Media)
	assert.Contains(t, unit.Text, "S/10")
	assert.Contains(t, unit.Text, "60")
	assert.Equal(t, []string{"https://cdn.example/qr10.png"}, h.fetcher.urls)
}

func TestPackageMediaFailureApologizes(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})
	h.fetcher.err = domain.ErrMediaFetchFailed

	a := h.send(t, "51911111111", "hola, el paquete de 10", t0)
	assert.Equal(t, StrategyPackage, a.Strategy)
	require.Len(t, a.Replies, 1)
	assert.Nil(t, a.Replies[0].Media)
	assert.Equal(t, tenant.DefaultReplies.MediaApology, a.Replies[0].Text)
}

func TestPaymentAtomicity(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})
	for _, body := range []string{"10", "100", "paquete de 10", "s/ 100"} {
		a := h.send(t, "51911111111", body, t0)
		for _, r := range a.Replies {
			if strings.Contains(r.Text, "*Créditos:*") {
				assert.NotNil(t, r.Media, "caption without image for %q", body)
			}
		}
	}
}

func TestPackageWithoutMediaFallsThroughToAI(t *testing.T) {
	cfg := baseConfig()
	cfg.Packages["20"] = domain.Package{Credits: 125}
	h := newHarness(t, cfg, fakeBackends{"gemini": replying("respuesta ia")})

	h.send(t, "51911111111", "hola 20", t0)
	a := h.send(t, "51911111111", "20", t0.Add(time.Minute))
	assert.Equal(t, StrategyAIPrimary, a.Strategy)
	assert.Equal(t, "respuesta ia", lastText(a))
	assert.Empty(t, h.fetcher.urls)
}

func TestScenarioB_FirstPaymentConfirmation(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})

	a := h.send(t, "51922222222", "hola, ya hice el pago", t0)
	assert.Equal(t, StrategyPayment, a.Strategy)
	require.Len(t, a.Replies, 1)
	assert.Contains(t, a.Replies[0].Text, tenant.DefaultReplies.PaymentAck)
	assert.Contains(t, a.Replies[0].Text, "regalado 1 crédito")

	require.Equal(t, 1, h.escalate.count())
	e := h.escalate.seen[0]
	assert.Equal(t, domain.EscalationPayment, e.Reason)
	assert.Equal(t, "hola, ya hice el pago", e.Message)
	assert.Equal(t, "51922222222", e.Customer)
	assert.Equal(t, []string{"51900000001"}, e.AdminRoster)
}

func TestLoyaltyTieBreak(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})

	first := h.send(t, "51922222222", "comprobante de pago", t0)
	second := h.send(t, "51922222222", "Ya pagué", t0.Add(time.Minute))

	assert.Contains(t, lastText(first), "regalado 1 crédito")
	assert.Contains(t, lastText(second), "regalado 3 crédito")

	st, ok := h.tracker.Get(conversation.Key{SessionID: "s1", CustomerID: "51922222222"})
	require.True(t, ok)
	assert.Equal(t, 2, st.PurchaseCount)
}

func TestPaymentBeatsPackage(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})
	a := h.send(t, "51922222222", "hola ya pague el paquete de 10", t0)
	assert.Equal(t, StrategyPayment, a.Strategy)
	assert.Empty(t, h.fetcher.urls)
}

func TestModulePrecedence(t *testing.T) {
	cfg := baseConfig()
	cfg.Modules = []domain.BusinessModule{
		{ID: "general", Keywords: []string{"precio"}, Template: "general"},
		{ID: "specific", Keywords: []string{"precio del paquete premium"}, Template: "specific"},
	}
	h := newHarness(t, cfg, fakeBackends{})

	for range 3 {
		a := h.send(t, "51933333333", "hola, cual es el precio del paquete premium", t0)
		assert.Equal(t, StrategyModule, a.Strategy)
		assert.Equal(t, "general", a.ModuleID)
		assert.Equal(t, "general", lastText(a))
	}
}

func TestModuleSimilarityMode(t *testing.T) {
	cfg := baseConfig()
	cfg.Modules = []domain.BusinessModule{
		{ID: "pagos", Keywords: []string{"métodos de pago disponibles"}, Template: "Yape o Plin"},
	}
	h := newHarness(t, cfg, fakeBackends{"gemini": replying("ia")})

	a := h.send(t, "51933333333", "hola, que métodos aceptan", t0)
	assert.Equal(t, StrategyAIPrimary, a.Strategy, "similarity mode off")

	cfg.SimilarityMatching = true
	h.tenants.set(cfg)
	a = h.send(t, "51933333333", "hola, que métodos aceptan", t0)
	assert.Equal(t, StrategyAIPrimary, a.Strategy, "1/3 is below the threshold")

	a = h.send(t, "51933333333", "hola, que métodos están disponibles", t0)
	assert.Equal(t, StrategyModule, a.Strategy)
	assert.Equal(t, "Yape o Plin", lastText(a))
}

func TestModuleResponseKinds(t *testing.T) {
	cfg := baseConfig()
	cfg.Modules = []domain.BusinessModule{
		{ID: "promo", Keywords: []string{"promo"}, ResponseKind: domain.MediaWithCaption, MediaURL: "https://cdn.example/promo.png", Template: "S/{{amount}} por {{credits}}", Amount: "50", Credits: 330},
		{ID: "humano", Keywords: []string{"asesor"}, ResponseKind: domain.HumanForward},
	}
	h := newHarness(t, cfg, fakeBackends{})

	a := h.send(t, "51944444444", "hola promo", t0)
	require.Len(t, a.Replies, 1)
	require.NotNil(t, a.Replies[0].Media)
	assert.Equal(t, "S/50 por 330", a.Replies[0].Text)

	a = h.send(t, "51944444444", "quiero un asesor", t0)
	assert.Equal(t, "humano", a.ModuleID)
	assert.Equal(t, tenant.DefaultReplies.HumanForward, lastText(a))
	require.Equal(t, 1, h.escalate.count())
	assert.Equal(t, domain.EscalationHumanForward, h.escalate.seen[0].Reason)
}

func TestLocalAnswer(t *testing.T) {
	cfg := baseConfig()
	cfg.LocalAnswers = map[string][]string{"horario": {"24/7", "Siempre"}}
	h := newHarness(t, cfg, fakeBackends{})

	h.send(t, "51955555555", "  Horario ", t0.Add(-time.Hour))
	a := h.send(t, "51955555555", "  Horario ", t0)
	assert.Equal(t, StrategyLocalAnswer, a.Strategy)
	require.Len(t, a.Replies, 1)
	assert.Equal(t, "24/7", a.Replies[0].Text)
}

func TestAIPromptIsDeterministic(t *testing.T) {
	var prompts []string
	client := &llm.MockClient{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		prompts = append(prompts, req.Messages[0].Content)
		return &llm.CompletionResponse{Content: "claro"}, nil
	}}
	cfg := baseConfig()
	cfg.BackendPrompts = map[domain.InferenceBackend]string{domain.BackendGemini: "Prompt gemini"}
	h := newHarness(t, cfg, fakeBackends{"gemini": client})

	h.send(t, "51966666666", "hola, qué ofrecen?", t0)
	h.send(t, "51966666666", "hola, qué ofrecen?", t0)
	require.Len(t, prompts, 2)
	assert.Equal(t, "Prompt gemini\n\nHistorial de conversación:\nUsuario: hola, qué ofrecen?", prompts[0])
	assert.Equal(t, prompts[0], prompts[1])
}

func TestAISecondaryOnFlaggedAnswer(t *testing.T) {
	cfg := baseConfig()
	cfg.ActiveInferenceBackend = domain.BackendOpenAI
	h := newHarness(t, cfg, fakeBackends{
		"openai": replying("Lo siento, no pude encontrar una respuesta."),
		"gemini": replying("respuesta de respaldo"),
	})

	a := h.send(t, "51966666666", "hola, algo raro", t0)
	assert.Equal(t, StrategyAISecondary, a.Strategy)
	assert.Equal(t, domain.BackendGemini, a.Backend)
	assert.Equal(t, "respuesta de respaldo", lastText(a))
	assert.Zero(t, h.escalate.count())
}

func TestAIExplicitSecondaryAndEmptyPrimary(t *testing.T) {
	cfg := baseConfig()
	cfg.SecondaryBackend = domain.BackendCohere
	h := newHarness(t, cfg, fakeBackends{
		"gemini": replying("   "),
		"cohere": replying("cohere dice"),
		"openai": replying("never"),
	})

	a := h.send(t, "51966666666", "hola", t0)
	assert.Equal(t, domain.BackendCohere, a.Backend)
	assert.Equal(t, "cohere dice", lastText(a))
}

func TestScenarioE_BothBackendsTimeOut(t *testing.T) {
	var calls int
	var mu sync.Mutex
	counting := func(c llm.Client) llm.Client {
		return &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return c.Complete(ctx, req)
		}}
	}
	h := newHarness(t, baseConfig(), fakeBackends{"gemini": counting(hanging()), "openai": counting(hanging())})

	a := h.send(t, "51977777777", "hola, necesito ayuda con mi cuenta", t0)
	assert.Equal(t, StrategyEscalation, a.Strategy)
	assert.Equal(t, 2, calls)
	require.Len(t, a.Replies, 1)
	assert.Equal(t, tenant.DefaultReplies.Escalation, a.Replies[0].Text)
	require.Equal(t, 1, h.escalate.count())
	assert.Equal(t, domain.EscalationFallback, h.escalate.seen[0].Reason)
}

func TestLocalOnlyEscalates(t *testing.T) {
	cfg := baseConfig()
	cfg.ActiveInferenceBackend = domain.BackendLocalOnly
	h := newHarness(t, cfg, fakeBackends{"gemini": replying("never")})

	a := h.send(t, "51977777777", "hola?", t0)
	assert.Equal(t, StrategyEscalation, a.Strategy)
	assert.Equal(t, 1, h.escalate.count())
}

func TestFallbackTotality(t *testing.T) {
	cfg := baseConfig()
	cfg.Modules = []domain.BusinessModule{{ID: "m", Keywords: []string{"horario"}, Template: "24/7"}}
	cfg.LocalAnswers = map[string][]string{"gracias": {"¡De nada!"}}
	h := newHarness(t, cfg, fakeBackends{"gemini": failing(errors.New("boom"))})

	bodies := []string{"", " ", "10", "ya hice el pago", "horario", "gracias", "???", "hola", strings.Repeat("x", 5000), "paquete de 999"}
	for _, body := range bodies {
		a := h.send(t, "51988888888", body, t0)
		require.NotEmpty(t, a.Replies, "body %q", body)
		assert.NotEmpty(t, strings.TrimSpace(lastText(a)), "body %q", body)
	}
}

func TestWelcomeRule(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{"gemini": replying("ok")})
	welcome := tenant.DefaultReplies.Welcome

	a := h.send(t, "51999999999", "quiero info", t0)
	require.Len(t, a.Replies, 2)
	assert.Equal(t, welcome, a.Replies[0].Text)

	a = h.send(t, "51999999999", "otra cosa", t0.Add(time.Hour))
	assert.Len(t, a.Replies, 1, "welcome only once per window")

	a = h.send(t, "51999999999", "volví", t0.Add(26*time.Hour))
	require.Len(t, a.Replies, 2)
	assert.Equal(t, welcome, a.Replies[0].Text)

	a = h.send(t, "51999999999", "Hola de nuevo", t0.Add(60*time.Hour))
	assert.Len(t, a.Replies, 1, "greeting suppresses welcome")
}

func TestMessageCountOrdering(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{"gemini": replying("ok")})
	key := conversation.Key{SessionID: "s1", CustomerID: "51912345678"}

	bodies := []string{"hola", "10", "ya hice el pago", "/pause", "nada"}
	for i, body := range bodies {
		h.send(t, "51912345678", body, t0.Add(time.Duration(i)*time.Second))
		st, ok := h.tracker.Get(key)
		require.True(t, ok)
		assert.Equal(t, i+1, st.MessageCount)
	}
}

func TestScenarioC_PauseResume(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{"gemini": replying("ok")})
	admin := "51900000001"
	customer := "51911112222"

	a := h.send(t, admin, "/pause", t0)
	assert.Equal(t, StrategyAdmin, a.Strategy)
	assert.Equal(t, "ok /pause", lastText(a))

	a = h.send(t, customer, "hola", t0.Add(time.Second))
	assert.True(t, a.Silent())
	assert.Equal(t, StrategyPaused, a.Strategy)

	st, ok := h.tracker.Get(conversation.Key{SessionID: "s1", CustomerID: customer})
	require.True(t, ok, "paused messages still touch state")
	assert.Equal(t, 1, st.MessageCount)

	h.send(t, admin, "/resume", t0.Add(2*time.Second))
	a = h.send(t, customer, "hola", t0.Add(3*time.Second))
	assert.False(t, a.Silent())
	assert.Equal(t, "ok", lastText(a))
}

func TestAdminCommandFromNonAdminIsNotCommand(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{"gemini": replying("respuesta")})

	a := h.send(t, "51911112222", "/pause", t0)
	assert.Equal(t, StrategyAIPrimary, a.Strategy)
	cfg, err := h.tenants.Get("masitaprex")
	require.NoError(t, err)
	assert.False(t, cfg.Paused)
}

func TestUnknownTenant(t *testing.T) {
	h := newHarness(t, baseConfig(), fakeBackends{})
	_, err := h.r.Resolve(context.Background(), Request{SessionID: "s1", TenantID: "nope", Sender: "1", Body: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotIsolation(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	h.r.opts.Backends = fakeBackends{"gemini": &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(started)
		<-release
		return &llm.CompletionResponse{Content: ""}, nil
	}}}

	done := make(chan Action)
	go func() {
		a, _ := h.r.Resolve(context.Background(), Request{SessionID: "s1", TenantID: "masitaprex", Sender: "519", Body: "hola", Now: t0})
		done <- a
	}()

	<-started
	changed := cfg.Clone()
	changed.Replies.Escalation = "texto nuevo"
	h.tenants.set(changed)
	close(release)

	a := <-done
	assert.Equal(t, StrategyEscalation, a.Strategy)
	assert.Equal(t, tenant.DefaultReplies.Escalation, lastText(a))
}
