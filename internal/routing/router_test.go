package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/conversation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/resolver"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/tenant"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

const customer = "51911111111@s.whatsapp.net"

// wireOp is one call made on the session, in order.
type wireOp struct {
	op       string // "send" | "composing" | "paused" | "reject"
	to       string
	body     string
	hasMedia bool
}

type fakeSessions struct {
	mu  sync.Mutex
	ops []wireOp
}

func (f *fakeSessions) Get(id string) (domain.SessionInfo, error) {
	return domain.SessionInfo{ID: id, TenantID: "masitaprex", State: domain.StateConnected}, nil
}

func (f *fakeSessions) Send(_ context.Context, _ string, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, wireOp{op: "send", to: msg.To, body: msg.Body, hasMedia: msg.Media != nil})
	return nil
}

func (f *fakeSessions) SendPresence(_ context.Context, _, to string, p domain.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, wireOp{op: string(p), to: to})
	return nil
}

func (f *fakeSessions) RejectCall(_ context.Context, _ string, call domain.IncomingCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, wireOp{op: "reject", to: call.From})
	return nil
}

func (f *fakeSessions) sends() []wireOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wireOp
	for _, o := range f.ops {
		if o.op == "send" {
			out = append(out, o)
		}
	}
	return out
}

type fakeTenants struct{ cfg domain.BusinessConfig }

func (f fakeTenants) Get(id string) (domain.BusinessConfig, error) {
	if id != f.cfg.TenantID {
		return domain.BusinessConfig{}, domain.ErrNotFound
	}
	return f.cfg, nil
}

type fakeResolver struct {
	mu     sync.Mutex
	reqs   []resolver.Request
	action resolver.Action
	gate   chan struct{}
}

func (f *fakeResolver) Resolve(_ context.Context, req resolver.Request) (resolver.Action, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.action, nil
}

func (f *fakeResolver) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.reqs))
	for _, r := range f.reqs {
		out = append(out, r.Body)
	}
	return out
}

type fakeVision struct {
	text string
	err  error
}

func (f fakeVision) Describe(context.Context, llm.Image) (string, error) { return f.text, f.err }

type fakeSpeech struct {
	text string
	err  error
}

func (f fakeSpeech) Transcribe(context.Context, []byte) (string, error) { return f.text, f.err }

type fakeManual struct {
	mu     sync.Mutex
	posted []string
	err    error
}

func (f *fakeManual) PostManualReply(_ context.Context, target, message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, target+"|"+message)
	return f.err
}

type harness struct {
	router   *Router
	sessions *fakeSessions
	resolver *fakeResolver
	manual   *fakeManual
	sleeps   []time.Duration
	mu       sync.Mutex
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	cfg := domain.BusinessConfig{TenantID: "masitaprex", WebhookTarget: "https://ops.example/hook"}
	tenant.ApplyDefaults(&cfg)
	h := &harness{
		sessions: &fakeSessions{},
		resolver: &fakeResolver{action: resolver.Action{Strategy: resolver.StrategyLocalAnswer, Replies: []resolver.Reply{{Text: "hola"}}}},
		manual:   &fakeManual{},
	}
	opts := Options{
		Sessions:      h.sessions,
		Tenants:       fakeTenants{cfg: cfg},
		Resolver:      h.resolver,
		ManualReplies: h.manual,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.router = NewRouter(opts, nil, testLogger())
	h.router.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func text(body string) domain.InboundMessage {
	return domain.InboundMessage{ID: "m", From: customer, Kind: domain.MessageKindText, Body: body}
}

func TestHandleInbound_TypingThenSend(t *testing.T) {
	h := newHarness(t, nil)
	h.router.HandleInbound(context.Background(), "s1", text("precio"))

	require.Equal(t, []wireOp{
		{op: "composing", to: customer},
		{op: "paused", to: customer},
		{op: "send", to: customer, body: "hola"},
	}, h.sessions.ops)
	assert.Equal(t, []time.Duration{4 * 40 * time.Millisecond}, h.sleeps)

	require.Len(t, h.resolver.reqs, 1)
	req := h.resolver.reqs[0]
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "masitaprex", req.TenantID)
	assert.Equal(t, customer, req.Sender)
}

func TestHandleInbound_EmitsHook(t *testing.T) {
	hm := hooks.NewManager(testLogger())
	var got hooks.Payload
	hm.On(hooks.EventMessageReceived, "test", func(_ context.Context, p hooks.Payload) error {
		got = p
		return nil
	})
	h := newHarness(t, nil)
	h.router.hooks = hm
	h.router.HandleInbound(context.Background(), "s1", text("hola"))
	assert.Equal(t, "s1", got.String("session"))
	assert.Equal(t, "masitaprex", got.String("tenant"))
	assert.Equal(t, customer, got.String("from"))
}

func TestHandleInbound_SilentAction(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.action = resolver.Action{Strategy: resolver.StrategyPaused}
	h.router.HandleInbound(context.Background(), "s1", text("hola"))
	assert.Empty(t, h.sessions.ops)
}

func TestHandleInbound_IgnoresGroupsAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	group := text("hola")
	group.ChatID = "12345@g.us"
	h.router.HandleInbound(context.Background(), "s1", group)

	status := text("hola")
	status.From = "status@broadcast"
	h.router.HandleInbound(context.Background(), "s1", status)

	assert.Empty(t, h.resolver.reqs)
	assert.Empty(t, h.sessions.ops)
}

func TestDeliver_SplitsLongText(t *testing.T) {
	h := newHarness(t, nil)
	long := strings.Repeat("Paquete de créditos disponible. ", 80) // 2560 runes
	h.resolver.action = resolver.Action{Replies: []resolver.Reply{{Text: long}}}
	h.router.HandleInbound(context.Background(), "s1", text("info"))

	sends := h.sessions.sends()
	require.Len(t, sends, 2)
	assert.Equal(t, strings.TrimSpace(long), sends[0].body+" "+sends[1].body)
	assert.True(t, strings.HasSuffix(sends[0].body, "."))

	// typing, split pause, typing
	require.Len(t, h.sleeps, 3)
	assert.Equal(t, 5*time.Second, h.sleeps[0], "typing delay is capped")
	assert.GreaterOrEqual(t, h.sleeps[1], time.Second)
	assert.Less(t, h.sleeps[1], 1500*time.Millisecond)
}

func TestDeliver_MediaWithCaptionIsOneUnit(t *testing.T) {
	h := newHarness(t, nil)
	caption := strings.Repeat("x", 3000)
	h.resolver.action = resolver.Action{Replies: []resolver.Reply{{Text: caption, Media: &domain.Media{Kind: domain.MediaImage}}}}
	h.router.HandleInbound(context.Background(), "s1", text("paquete de 10"))

	sends := h.sessions.sends()
	require.Len(t, sends, 1)
	assert.True(t, sends[0].hasMedia)
	assert.Equal(t, caption, sends[0].body)
}

func TestDeliver_RepliesInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.action = resolver.Action{Replies: []resolver.Reply{{Text: "bienvenido"}, {Text: ""}, {Text: "precio"}}}
	h.router.HandleInbound(context.Background(), "s1", text("hola"))

	sends := h.sessions.sends()
	require.Len(t, sends, 2)
	assert.Equal(t, "bienvenido", sends[0].body)
	assert.Equal(t, "precio", sends[1].body)
}

func TestSplitHalves(t *testing.T) {
	a, b := splitHalves("primera parte\n\nsegunda parte")
	assert.Equal(t, "primera parte", a)
	assert.Equal(t, "segunda parte", b)

	a, b = splitHalves(strings.Repeat("ñ", 11))
	assert.Equal(t, strings.Repeat("ñ", 11), a+b)
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
}

func TestIncomingCall(t *testing.T) {
	h := newHarness(t, nil)
	h.router.process(context.Background(), "s1", domain.TransportEvent{
		Kind: domain.EventIncomingCall,
		Call: &domain.IncomingCall{ID: "c1", From: customer},
	})
	require.NotEmpty(t, h.sessions.ops)
	assert.Equal(t, "reject", h.sessions.ops[0].op)
	sends := h.sessions.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, tenant.DefaultReplies.CallRejected, sends[0].body)
	assert.Empty(t, h.resolver.reqs)
}

func TestMissedCallGetsReplyOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.router.process(context.Background(), "s1", domain.TransportEvent{
		Kind: domain.EventIncomingCall,
		Call: &domain.IncomingCall{ID: "c1", From: customer, Missed: true},
	})
	for _, o := range h.sessions.ops {
		assert.NotEqual(t, "reject", o.op)
	}
	assert.Len(t, h.sessions.sends(), 1)
}

func TestUnsupportedKinds(t *testing.T) {
	for _, kind := range []domain.MessageKind{domain.MessageKindVideo, domain.MessageKindDocument, domain.MessageKindSticker} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t, nil)
			h.router.HandleInbound(context.Background(), "s1", domain.InboundMessage{From: customer, Kind: kind})
			sends := h.sessions.sends()
			require.Len(t, sends, 1)
			assert.Equal(t, tenant.DefaultReplies.Unsupported, sends[0].body)
			assert.Empty(t, h.resolver.reqs)
		})
	}
}

func TestImageDescribed(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Vision = fakeVision{text: llm.ReceiptLabel} })
	h.router.HandleInbound(context.Background(), "s1", domain.InboundMessage{
		From:  customer,
		Kind:  domain.MessageKindImage,
		Media: &domain.Media{Kind: domain.MediaImage, Data: []byte{0xff, 0xd8}},
	})
	assert.Equal(t, []string{llm.ReceiptLabel}, h.resolver.bodies())
}

func TestImageVisionFailureUsesCaption(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Vision = fakeVision{err: errors.New("quota")} })
	h.router.HandleInbound(context.Background(), "s1", domain.InboundMessage{
		From:  customer,
		Kind:  domain.MessageKindImage,
		Body:  "mi pago",
		Media: &domain.Media{Kind: domain.MediaImage, Data: []byte{1}},
	})
	assert.Equal(t, []string{"mi pago"}, h.resolver.bodies())
}

func TestAudio(t *testing.T) {
	voice := domain.InboundMessage{From: customer, Kind: domain.MessageKindAudio, Media: &domain.Media{Kind: domain.MediaAudio, Data: []byte{1}}}

	h := newHarness(t, func(o *Options) { o.Speech = fakeSpeech{text: "quiero el paquete de 10"} })
	h.router.HandleInbound(context.Background(), "s1", voice)
	assert.Equal(t, []string{"quiero el paquete de 10"}, h.resolver.bodies())

	h = newHarness(t, func(o *Options) { o.Speech = fakeSpeech{err: errors.New("no speech")} })
	h.router.HandleInbound(context.Background(), "s1", voice)
	assert.Empty(t, h.resolver.reqs)
	require.Len(t, h.sessions.sends(), 1)
	assert.Equal(t, tenant.DefaultReplies.Unsupported, h.sessions.sends()[0].body)
}

func TestManualReplyCaptured(t *testing.T) {
	h := newHarness(t, nil)
	msg := text("sí, me interesa")
	msg.QuotedBody = "Promo de hoy\n\n" + domain.ManualReplyMarker
	h.router.HandleInbound(context.Background(), "s1", msg)

	assert.Equal(t, []string{"https://ops.example/hook|sí, me interesa"}, h.manual.posted)
	assert.Empty(t, h.resolver.reqs)
	sends := h.sessions.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, tenant.DefaultReplies.ManualReplyAck, sends[0].body)
}

func TestManualReplyPostFailureSendsNoAck(t *testing.T) {
	h := newHarness(t, nil)
	h.manual.err = errors.New("502")
	msg := text("sí")
	msg.QuotedBody = domain.ManualReplyMarker
	h.router.HandleInbound(context.Background(), "s1", msg)

	assert.Len(t, h.manual.posted, 1)
	assert.Empty(t, h.resolver.reqs)
	assert.Empty(t, h.sessions.sends())
}

func TestManualReplyWithoutWebhookResolves(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		cfg := o.Tenants.(fakeTenants).cfg
		cfg.WebhookTarget = ""
		o.Tenants = fakeTenants{cfg: cfg}
	})
	msg := text("sí")
	msg.QuotedBody = domain.ManualReplyMarker
	h.router.HandleInbound(context.Background(), "s1", msg)

	assert.Empty(t, h.manual.posted)
	assert.Equal(t, []string{"sí"}, h.resolver.bodies())
}

func TestHandle_PerSessionOrder(t *testing.T) {
	h := newHarness(t, nil)
	for i := range 20 {
		h.router.Handle(context.Background(), "s1", domain.TransportEvent{
			Kind:    domain.EventInboundMessage,
			Message: &domain.InboundMessage{From: customer, Kind: domain.MessageKindText, Body: fmt.Sprintf("m%02d", i)},
		})
	}
	h.router.Close()

	bodies := h.resolver.bodies()
	require.Len(t, bodies, 20)
	for i, b := range bodies {
		assert.Equal(t, fmt.Sprintf("m%02d", i), b)
	}
}

func TestHandle_BacklogIsUnbounded(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.gate = make(chan struct{})
	for i := range 200 {
		h.router.Handle(context.Background(), "s1", domain.TransportEvent{
			Kind:    domain.EventInboundMessage,
			Message: &domain.InboundMessage{From: customer, Kind: domain.MessageKindText, Body: fmt.Sprintf("m%03d", i)},
		})
	}
	// the worker holds the first event in Resolve, the rest wait
	require.Eventually(t, func() bool { return h.router.Backlog("s1") == 199 }, time.Second, 5*time.Millisecond)

	close(h.resolver.gate)
	h.router.Close()

	bodies := h.resolver.bodies()
	require.Len(t, bodies, 200)
	for i, b := range bodies {
		assert.Equal(t, fmt.Sprintf("m%03d", i), b)
	}
	assert.Zero(t, h.router.Backlog("s1"))
}

func TestHandleInbound_TouchesEveryAcceptedMessage(t *testing.T) {
	tracker := conversation.NewTracker(nil, testLogger())
	h := newHarness(t, func(o *Options) { o.Tracker = tracker })

	quoted := text("sí")
	quoted.QuotedBody = "Promo\n\n" + domain.ManualReplyMarker
	msgs := []domain.InboundMessage{
		text("hola"),
		{ID: "m", From: customer, Kind: domain.MessageKindSticker},
		{ID: "m", From: customer, Kind: domain.MessageKindAudio, Media: &domain.Media{Data: []byte("ogg")}},
		quoted,
		text("hola otra vez"),
		{ID: "m", From: customer, ChatID: "120363@g.us", Kind: domain.MessageKindText, Body: "grupo"},
		text("   "),
	}
	for _, m := range msgs {
		h.router.HandleInbound(context.Background(), "s1", m)
	}

	st, ok := tracker.Get(conversation.Key{SessionID: "s1", CustomerID: "51911111111"})
	require.True(t, ok)
	assert.Equal(t, 5, st.MessageCount, "group and blank messages are not accepted")

	require.Len(t, h.resolver.reqs, 2)
	for _, req := range h.resolver.reqs {
		require.NotNil(t, req.Touched)
	}
	assert.True(t, h.resolver.reqs[0].Touched.FirstInWindow)
	assert.Equal(t, 5, h.resolver.reqs[1].Touched.MessageCount)
}

func TestForgetAndClose(t *testing.T) {
	h := newHarness(t, nil)
	ev := domain.TransportEvent{Kind: domain.EventInboundMessage, Message: &domain.InboundMessage{From: customer, Body: "x"}}
	h.router.Handle(context.Background(), "s1", ev)
	h.router.Forget("s1")
	h.router.Forget("s1")

	h.router.Close()
	assert.Error(t, h.router.enqueue(context.Background(), "s2", ev))
}

func TestDeliveryFromConfigDefaults(t *testing.T) {
	d := DeliveryOptions{}.withDefaults()
	assert.Equal(t, 40*time.Millisecond, d.TypingPerChar)
	assert.Equal(t, 5*time.Second, d.TypingMax)
	assert.Equal(t, 2000, d.SplitThreshold)
	assert.Equal(t, time.Second, d.SplitPauseMin)
	assert.Equal(t, 1500*time.Millisecond, d.SplitPauseMax)
	assert.Equal(t, 120*time.Millisecond, d.typingDelay("abc"))
}
