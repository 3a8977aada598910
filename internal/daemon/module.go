package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/api"
	"github.com/matheus3301/wpprtc/internal/archive"
	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/matheus3301/wpprtc/internal/chat"
	"github.com/matheus3301/wpprtc/internal/config"
	"github.com/matheus3301/wpprtc/internal/conversation"
	"github.com/matheus3301/wpprtc/internal/identity"
	"github.com/matheus3301/wpprtc/internal/lock"
	"github.com/matheus3301/wpprtc/internal/logging"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/outbox"
	"github.com/matheus3301/wpprtc/internal/presence"
	"github.com/matheus3301/wpprtc/internal/profile"
	"github.com/matheus3301/wpprtc/internal/remote"
	"github.com/matheus3301/wpprtc/internal/rtc"
	"github.com/matheus3301/wpprtc/internal/status"
	"github.com/matheus3301/wpprtc/internal/store"
	"github.com/matheus3301/wpprtc/internal/stories"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	// Config overrides profile.toml; nil means load it from disk.
	Config *config.Profile
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideIdentity,
			provideBus,
			provideLock,
			provideStore,
			provideTransport,
			provideRemote,
			provideIndex,
			provideTracker,
			provideAnnouncer,
			provideChatEngine,
			provideFeed,
			provideRTC,
			provideCallMachine,
			provideDispatcher,
			provideArchiver,
			provideOutbox,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Profile, error) {
	cfg := p.Config
	if cfg == nil {
		loaded, err := config.LoadProfile(profile.ConfigPath(p.ProfileName))
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Profile) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.Log.Level)
}

func provideIdentity(cfg *config.Profile, logger *zap.Logger) (model.User, error) {
	id := cfg.Identity
	if id.Token != "" {
		if tok, err := identity.ParseToken(id.Token); err != nil {
			logger.Warn("bearer token is not a readable JWT", zap.Error(err))
		} else if tok.Expired(time.Now()) {
			logger.Warn("bearer token has expired", zap.Time("expires_at", tok.ExpiresAt))
		}
	}
	u, err := identity.Resolve(identity.Config{
		UserID:         id.UserID,
		Username:       id.Username,
		ProfilePicture: id.ProfilePicture,
		Token:          id.Token,
	})
	if err != nil {
		return model.User{}, err
	}
	logger.Info("identity resolved", zap.String("user_id", u.ID))
	return u, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(profile.LockPath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the cache is never opened by two daemons.
// A cache left behind by another identity is cleared before use.
func provideStore(p Params, _ *lock.Lock, local model.User, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(profile.CachePath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	}
	wiped, err := db.Claim(local.ID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if wiped {
		logger.Warn("cache belonged to another identity, cleared", zap.String("user_id", local.ID))
	}
	logger.Info("store initialized", zap.String("path", db.Path()), zap.Uint("schema", result.Version))
	return db, nil
}

func provideTransport(cfg *config.Profile, b *bus.Bus, logger *zap.Logger) *transport.Channel {
	t := cfg.Transport
	return transport.New(transport.Config{
		URL:          t.URL,
		Token:        cfg.Identity.Token,
		MaxRetries:   t.MaxRetries,
		RetryDelay:   t.RetryDelay.Duration,
		WriteTimeout: t.WriteTimeout.Duration,
		PingInterval: t.PingInterval.Duration,
	}, b, logger)
}

func provideRemote(cfg *config.Profile, logger *zap.Logger) (*remote.Client, error) {
	return remote.New(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Identity.Token,
		Timeout: cfg.Remote.Timeout.Duration,
	}, logger)
}

func provideIndex() *conversation.Index {
	return conversation.NewIndex()
}

func provideTracker(local model.User, rc *remote.Client, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(local.ID, rc, b, logger)
}

func provideAnnouncer(ch *transport.Channel, cfg *config.Profile, logger *zap.Logger) *presence.Announcer {
	return presence.NewAnnouncer(ch, cfg.Chat.TypingIdle.Duration, logger)
}

func provideChatEngine(local model.User, rc *remote.Client, ch *transport.Channel, index *conversation.Index, tracker *presence.Tracker, b *bus.Bus, logger *zap.Logger) *chat.Engine {
	return chat.NewEngine(local.ID, rc, ch, index, tracker, b, logger)
}

func provideFeed(rc *remote.Client, b *bus.Bus, logger *zap.Logger) *stories.Feed {
	return stories.NewFeed(rc, b, logger)
}

func provideRTC(cfg *config.Profile, logger *zap.Logger) (*rtc.Engine, error) {
	return rtc.New(rtc.Config{ICEServers: cfg.Call.ICEServers, ReceiveOnly: cfg.Call.ReceiveOnly}, logger)
}

func provideCallMachine(local model.User, ch *transport.Channel, engine *rtc.Engine, cfg *config.Profile, b *bus.Bus, logger *zap.Logger) *call.Machine {
	return call.NewMachine(local, ch, engine, engine, call.Config{
		AcceptDelay:     cfg.Call.AcceptDelay.Duration,
		EndGrace:        cfg.Call.EndGrace.Duration,
		DisconnectGrace: cfg.Call.DisconnectGrace.Duration,
	}, b, logger)
}

func provideDispatcher(m *call.Machine, ch *transport.Channel, logger *zap.Logger) *call.Dispatcher {
	return call.NewDispatcher(m, ch, logger)
}

func provideArchiver(db *store.DB, b *bus.Bus, engine *chat.Engine, index *conversation.Index, logger *zap.Logger) *archive.Archiver {
	return archive.New(db, b, engine, index, logger)
}

func provideOutbox(db *store.DB, engine *chat.Engine, b *bus.Bus, cfg *config.Profile, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, engine, b, cfg.Chat.RetryOnReconnect, logger)
}

type controlDeps struct {
	fx.In

	Params     Params
	Local      model.User
	Channel    *transport.Channel
	Engine     *chat.Engine
	Index      *conversation.Index
	Machine    *call.Machine
	Dispatcher *call.Dispatcher
	Tracker    *presence.Tracker
	Announcer  *presence.Announcer
	Feed       *stories.Feed
	DB         *store.DB
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func provideControl(d controlDeps) *api.Control {
	return api.NewControl(
		api.NewStatusService(api.StatusDeps{
			Profile:   d.Params.ProfileName,
			Local:     d.Local,
			Link:      d.Channel,
			Engine:    d.Engine,
			Index:     d.Index,
			Machine:   d.Machine,
			Tracker:   d.Tracker,
			Announcer: d.Announcer,
			Feed:      d.Feed,
			DB:        d.DB,
			Bus:       d.Bus,
		}, d.Logger),
		api.NewChatService(d.Local.ID, d.Engine, d.Index, d.DB),
		api.NewCallService(d.Machine, d.Dispatcher, d.DB),
	)
}

type lifecycleDeps struct {
	fx.In

	Config     *config.Profile
	Server     *Server
	Lock       *lock.Lock
	DB         *store.DB
	Local      model.User
	Channel    *transport.Channel
	Tracker    *presence.Tracker
	Announcer  *presence.Announcer
	Engine     *chat.Engine
	Feed       *stories.Feed
	Machine    *call.Machine
	Dispatcher *call.Dispatcher
	Archiver   *archive.Archiver
	Outbox     *outbox.Sender
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	linkCtx, stopLink := context.WithCancel(ctx)
	var linkDone sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Archiver.Start(ctx)
			d.Engine.Start(ctx)
			d.Outbox.Start(ctx)
			d.Machine.Start(ctx)

			// Handlers must be in place before the first inbound frame.
			d.Tracker.Bind(d.Channel)
			d.Engine.Bind(d.Channel)
			d.Feed.Bind(d.Channel)
			d.Dispatcher.Bind()

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			linkDone.Add(1)
			go func() {
				defer linkDone.Done()
				superviseLink(linkCtx, d)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			stopLink()
			linkDone.Wait()

			d.Dispatcher.Close()
			d.Machine.Stop()
			d.Announcer.StopAll()
			d.Outbox.Stop()
			d.Engine.Stop()
			d.Channel.Disconnect()
			d.Archiver.Stop()
			cancel()
			d.Server.Stop(stopCtx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}

// superviseLink dials the link once with the same bounded budget the
// channel uses for reconnects, then refetches conversations and stories
// every time the link comes up so state missed while offline is reconciled.
// After the budget is spent the link stays down until a Reconnect request.
func superviseLink(ctx context.Context, d lifecycleDeps) {
	ch, unsub := d.Bus.Subscribe(bus.TransportStatusChanged, 16)
	defer unsub()

	dialed := make(chan struct{})
	go func() {
		defer close(dialed)
		dial(ctx, d)
	}()
	defer func() { <-dialed }()

	for {
		select {
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Connected {
				refresh(ctx, d)
			}
		case <-ctx.Done():
			return
		}
	}
}

func dial(ctx context.Context, d lifecycleDeps) {
	t := d.Config.Transport
	for attempt := 0; ; attempt++ {
		err := d.Channel.Connect(ctx, d.Local.ID)
		if err == nil {
			return
		}
		if attempt >= t.MaxRetries {
			d.Logger.Error("giving up on initial connect", zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}
		d.Logger.Warn("connect failed", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-time.After(t.RetryDelay.Duration):
		case <-ctx.Done():
			return
		}
	}
}

func refresh(ctx context.Context, d lifecycleDeps) {
	if _, err := d.Engine.FetchConversations(ctx); err != nil {
		d.Logger.Warn("refreshing conversations", zap.Error(err))
	}
	if _, err := d.Feed.Fetch(ctx); err != nil {
		d.Logger.Warn("refreshing stories", zap.Error(err))
	}
}
