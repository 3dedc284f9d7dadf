package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/admin"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/conversation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/resolver"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/tenant"
)

// These tests run the chain against the real tenant store and admin
// processor instead of hand-built snapshots.

func silentLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

type backends map[string]llm.Client

func (b backends) Get(name string) (llm.Client, bool) {
	c, ok := b[name]
	return c, ok
}

type recordingFetcher struct{ urls []string }

func (f *recordingFetcher) Fetch(_ context.Context, url string, kind domain.MediaKind) (*domain.Media, error) {
	f.urls = append(f.urls, url)
	return &domain.Media{Kind: kind, Data: []byte("png"), MimeType: "image/png"}, nil
}

type countingEscalator struct{ n int }

func (c *countingEscalator) Escalate(context.Context, domain.Escalation) { c.n++ }

type idleSessions struct{}

func (idleSessions) Send(context.Context, string, domain.OutboundMessage) error { return nil }

func (idleSessions) Get(id string) (domain.SessionInfo, error) {
	return domain.SessionInfo{ID: id, State: domain.StateConnected}, nil
}

type stack struct {
	r        *resolver.Resolver
	tenants  *tenant.Store
	tracker  *conversation.Tracker
	fetcher  *recordingFetcher
	escalate *countingEscalator
}

func newStack(t *testing.T, cfg domain.BusinessConfig, b backends) *stack {
	t.Helper()
	ts := tenant.NewStore(nil, silentLogger())
	require.NoError(t, ts.Put(cfg))
	s := &stack{
		tenants:  ts,
		tracker:  conversation.NewTracker(nil, silentLogger()),
		fetcher:  &recordingFetcher{},
		escalate: &countingEscalator{},
	}
	proc := admin.NewProcessor(ts, idleSessions{}, s.fetcher, admin.NewPacer(0), nil, silentLogger())
	s.r = resolver.New(resolver.Options{
		Tenants:   ts,
		Tracker:   s.tracker,
		Backends:  b,
		Media:     s.fetcher,
		Escalator: s.escalate,
		Admin:     proc,
		Timeout:   50 * time.Millisecond,
	}, silentLogger())
	return s
}

var start = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func (s *stack) send(t *testing.T, from, body string, at time.Time) resolver.Action {
	t.Helper()
	a, err := s.r.Resolve(context.Background(), resolver.Request{
		SessionID: "s1", TenantID: "masitaprex", Sender: from + "@s.whatsapp.net", Body: body, Now: at,
	})
	require.NoError(t, err)
	return a
}

func TestStockTenantServesPackageSelection(t *testing.T) {
	s := newStack(t, domain.BusinessConfig{
		TenantID:               "masitaprex",
		ActiveInferenceBackend: domain.BackendLocalOnly,
	}, nil)

	for i, body := range []string{"10", "paquete de 20", "200 soles"} {
		a := s.send(t, "51911111111", body, start.Add(time.Duration(i)*time.Minute))
		require.Equal(t, resolver.StrategyPackage, a.Strategy, body)
		unit := a.Replies[len(a.Replies)-1]
		require.NotNil(t, unit.Media, body)
		assert.Contains(t, unit.Text, "*Créditos:*")
	}
	assert.Contains(t, s.send(t, "51922222222", "10", start).Replies[1].Text, "S/10")
	assert.Equal(t, []string{tenant.DefaultPaymentQR, tenant.DefaultPaymentQR, tenant.DefaultPaymentQR, tenant.DefaultPaymentQR}, s.fetcher.urls)
	assert.Zero(t, s.escalate.n)
}

func TestPauseResumeThroughAdminProcessor(t *testing.T) {
	ai := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "respuesta ia"}, nil
		},
	}
	s := newStack(t, domain.BusinessConfig{
		TenantID:    "masitaprex",
		AdminRoster: []string{"+51900000001"},
	}, backends{"gemini": ai})
	const adminNum, customer = "51900000001", "51911112222"

	a := s.send(t, adminNum, "/pause", start)
	assert.Equal(t, resolver.StrategyAdmin, a.Strategy)
	cfg, err := s.tenants.Get("masitaprex")
	require.NoError(t, err)
	assert.True(t, cfg.Paused)

	for i := range 3 {
		a = s.send(t, customer, "¿tienen promociones?", start.Add(time.Duration(i+1)*time.Second))
		assert.True(t, a.Silent())
	}
	st, ok := s.tracker.Get(conversation.Key{SessionID: "s1", CustomerID: customer})
	require.True(t, ok)
	assert.Equal(t, 3, st.MessageCount)

	s.send(t, adminNum, "/resume", start.Add(10*time.Second))
	cfg, err = s.tenants.Get("masitaprex")
	require.NoError(t, err)
	assert.False(t, cfg.Paused)

	a = s.send(t, customer, "¿tienen promociones?", start.Add(11*time.Second))
	assert.Equal(t, resolver.StrategyAIPrimary, a.Strategy)
	assert.Equal(t, "respuesta ia", a.Replies[len(a.Replies)-1].Text)
}
