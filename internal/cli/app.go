package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/admin"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/channel"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/channel/irc"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/channel/telegram"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/conversation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/escalation"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/gateway"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/hooks"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/llm"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/media"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/resolver"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/routing"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/session"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/speech"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/store"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/tenant"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/transport/bridge"
)

// app holds every long-lived component of a running bot.
type app struct {
	cfg      config.Config
	log      *logging.Logger
	db       *store.DB
	hooks    *hooks.Manager
	tenants  *tenant.Store
	tracker  *conversation.Tracker
	sessions *session.Registry
	pacer    *admin.Pacer
	router   *routing.Router
	channels *channel.Registry
	server   *gateway.Server
}

// buildApp wires the components together. Nothing is started yet.
func buildApp(ctx context.Context, cfg config.Config, p config.Paths, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, hooks: hooks.NewManager(log)}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = p.Database()
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	escLog := store.NewEscalationLog(db)

	a.tenants = tenant.NewStore(store.NewTenantStore(db), log)
	if err := a.seedTenants(); err != nil {
		db.Close()
		return nil, err
	}
	a.tracker = conversation.NewTracker(store.NewConversationStore(db), log)

	var transport domain.Transport
	bcfg := cfg.Bridge
	if bcfg.CredentialsDir == "" {
		bcfg.CredentialsDir = p.Sessions
	}
	if t, err := bridge.New(bcfg, log); err != nil {
		log.Warn().Err(err).Msg("WhatsApp bridge not configured, sessions cannot be created")
	} else {
		transport = t
	}
	a.sessions = session.NewRegistry(transport, session.Options{
		Backoff: session.Backoff{
			Base:   cfg.Sessions.ReconnectBase(),
			Max:    cfg.Sessions.ReconnectMax(),
			Factor: 2,
			Jitter: cfg.Sessions.ReconnectJitter,
		},
		MaxAttempts:     cfg.Sessions.MaxAttempts(),
		RenderChallenge: media.QRDataURL,
		Persist:         store.NewSessionStore(db),
	}, a.hooks, log)

	backends := llm.NewRegistryFromConfig(cfg.Inference, log)
	fetcher := media.NewFetcher(cfg.Media.Timeout(), cfg.Media.MaxBytes, log)

	a.pacer = admin.NewPacer(cfg.Delivery.BulkInterval())
	processor := admin.NewProcessor(a.tenants, a.sessions, fetcher, a.pacer, a.hooks, log)

	a.channels = channel.NewRegistry(log)
	if c := cfg.Escalation.IRC; c != nil {
		a.channels.Register(irc.New(*c, log))
	}
	if c := cfg.Escalation.Telegram; c != nil {
		n, err := telegram.New(*c, log)
		if err != nil {
			log.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			a.channels.Register(n)
		}
	}

	forwarder := escalation.NewForwarder(a.sessions, escalation.Options{
		Recorder:       escLog,
		Notifiers:      a.channels,
		WebhookTimeout: cfg.Escalation.WebhookTimeout(),
		Concurrency:    cfg.Escalation.Concurrency,
	}, a.hooks, log)

	res := resolver.New(resolver.Options{
		Tenants:   a.tenants,
		Tracker:   a.tracker,
		Backends:  backends,
		Media:     fetcher,
		Escalator: forwarder,
		Admin:     processor,
		Timeout:   cfg.Inference.Timeout(),
	}, log)

	ropts := routing.Options{
		Sessions:      a.sessions,
		Tenants:       a.tenants,
		Resolver:      res,
		Tracker:       a.tracker,
		ManualReplies: forwarder,
		Delivery:      routing.DeliveryFromConfig(cfg.Delivery),
		DefaultTenant: cfg.Sessions.DefaultTenant,
	}
	if vision, ok := backends.Get(cfg.Inference.VisionBackend); ok {
		ropts.Vision = llm.NewDescriber(vision)
	}
	if sp := cfg.Inference.Speech; sp.APIKey != "" || sp.AccessToken != "" {
		tr, err := speech.NewGoogleTranscriber(ctx, sp, log)
		if err != nil {
			log.Error().Err(err).Msg("speech-to-text disabled")
		} else {
			ropts.Speech = tr
		}
	}
	a.router = routing.NewRouter(ropts, a.hooks, log)

	a.sessions.OnEvent(a.router.Handle)
	a.sessions.OnRemoved(a.router.Forget)
	a.sessions.OnRemoved(a.tracker.Forget)
	a.sessions.OnRemoved(a.pacer.Forget)

	a.server = gateway.New(cfg, log,
		gateway.WithSessions(a.sessions),
		gateway.WithTenants(a.tenants),
		gateway.WithOperator(processor),
		gateway.WithEscalations(escLog),
		gateway.WithChannels(a.channels),
		gateway.WithHooks(a.hooks),
	)
	return a, nil
}

// seedTenants restores stored tenants, then installs the ones from config
// that are not stored yet. The tenants file, when set, always wins.
func (a *app) seedTenants() error {
	if err := a.tenants.Restore(); err != nil {
		return err
	}
	if err := a.tenants.Seed(a.cfg.Tenants, false); err != nil {
		return fmt.Errorf("seeding tenants: %w", err)
	}
	if a.cfg.TenantsFile != "" {
		a.tenants.ReloadFile(a.cfg.TenantsFile)
	}
	def := a.cfg.Sessions.DefaultTenant
	if def != "" && !a.tenants.Has(def) {
		if err := a.tenants.Put(domain.BusinessConfig{TenantID: def}); err != nil {
			return fmt.Errorf("creating default tenant: %w", err)
		}
	}
	return nil
}

// run starts sessions, notifiers and the control plane, and blocks until
// ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	if a.cfg.TenantsFile != "" {
		go func() {
			path, _ := filepath.Abs(a.cfg.TenantsFile)
			if err := a.tenants.Watch(ctx, path); err != nil {
				a.log.Error().Err(err).Msg("tenant file watcher stopped")
			}
		}()
	}

	a.channels.StartAll(ctx)

	if err := a.sessions.Restore(ctx); err != nil {
		a.log.Error().Err(err).Msg("restoring sessions failed")
	}
	for _, seed := range a.cfg.Sessions.Autostart {
		_, err := a.sessions.Create(ctx, seed.ID, seed.Tenant)
		switch {
		case err == nil, errors.Is(err, domain.ErrAlreadyExists):
		default:
			a.log.Error().Err(err).Str("session", seed.ID).Msg("autostart failed")
		}
	}

	return a.server.Start(ctx)
}

// close stops everything in reverse dependency order.
func (a *app) close() {
	ctx := context.Background()
	a.sessions.StopAll(ctx)
	a.router.Close()
	a.channels.StopAll(ctx)
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing database")
	}
}
