package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adityaadpandey/roomlink/internals/config"
	"github.com/adityaadpandey/roomlink/internals/credential"
	"github.com/adityaadpandey/roomlink/internals/device"
	"github.com/adityaadpandey/roomlink/internals/media"
	"github.com/adityaadpandey/roomlink/internals/reconnect"
	"github.com/adityaadpandey/roomlink/internals/render"
	"github.com/adityaadpandey/roomlink/internals/session"
	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/adityaadpandey/roomlink/internals/statusfeed"
	"github.com/adityaadpandey/roomlink/internals/store"
	"github.com/adityaadpandey/roomlink/internals/transport"
	"github.com/adityaadpandey/roomlink/internals/transport/memory"
	"github.com/adityaadpandey/roomlink/internals/transport/pionrtc"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const toneInterval = 20 * time.Millisecond

// App is the client harness: one controller, its device switcher, the audio
// meter and the status feed, served over HTTP.
type App struct {
	config *config.Config
	logger *zap.Logger

	provider   *memory.Provider
	store      store.Store
	redis      *store.RedisStore
	switcher   *device.Switcher
	controller *session.Controller
	meter      *media.Meter
	hub        *statusfeed.Hub
	webrtcAPI  *webrtc.API       // set for the pion device backend
	relay      *statusfeed.Relay // nil without redis
	recorder   *render.Recorder

	room atomic.Value // string, last room asked for

	toneMu     sync.Mutex
	toneCancel context.CancelFunc

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// Deps overrides collaborators; zero fields get the configured defaults.
type Deps struct {
	Provider    *memory.Provider
	Credentials credential.Source
	Factory     transport.TrackFactory
	Store       store.Store
}

func NewApp(cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	quality, err := device.ParseQuality(cfg.Device.Quality)
	if err != nil {
		cancel()
		return nil, err
	}

	a := &App{
		config:   cfg,
		logger:   logger,
		provider: deps.Provider,
		store:    deps.Store,
		meter:    media.NewMeter(logger),
		hub:      statusfeed.NewHub(logger),
		recorder: render.NewRecorder(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.room.Store(cfg.Session.Room)

	if a.provider == nil {
		a.provider = memory.NewProvider()
	}
	if a.store == nil {
		a.store = a.openStore(ctx)
	}

	creds := deps.Credentials
	if creds == nil {
		creds = credential.NewService(credential.Options{
			BaseURL:  cfg.Credential.BaseURL,
			Timeout:  cfg.Credential.Timeout,
			CacheTTL: cfg.Credential.CacheTTL,
		}, logger)
	}

	if a.redis != nil {
		a.relay = statusfeed.NewRelay(a.redis.Client(), logger)
	}

	if cfg.Device.Backend == "pion" {
		api, err := pionrtc.NewAPI(a.apiOptions(), logger)
		if err != nil {
			cancel()
			return nil, err
		}
		a.webrtcAPI = api
	}

	factory := deps.Factory
	if factory == nil {
		factory = a.trackFactory()
	}

	a.switcher = device.NewSwitcher(factory, device.Options{
		Grace:      cfg.Device.SwitchGrace,
		Quality:    quality,
		StreamSlug: cfg.Session.StreamSlug,
		Store:      a.store,
	}, logger)

	a.controller = session.NewController(a.provider, creds, a.recorder, a.switcher, session.Options{
		ConnectTimeout: cfg.Session.ConnectTimeout,
		OfflineTimeout: cfg.Session.OfflineTimeout,
		Reconnect: reconnect.Policy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Reconnect.BaseDelay,
			Multiplier:  cfg.Reconnect.Multiplier,
		},
		StreamSlug: cfg.Session.StreamSlug,
	}, logger)

	// Observers run under the controller lock; Publish never blocks.
	a.controller.OnStateChange(func(_, next state.ConnectionState) {
		a.hub.Publish(a.roomName(), next)
		if a.relay != nil {
			a.relay.Publish(a.roomName(), next)
		}
	})
	a.controller.OnReconnecting(func() {
		a.logger.Info("Transport reconnecting", zap.String("room", a.roomName()))
	})
	a.meter.OnLevel(func(kind media.SourceKind, level float64) {
		a.logger.Debug("Audio level",
			zap.String("source", kind.String()),
			zap.Float64("level", level),
		)
	})

	return a, nil
}

func (a *App) openStore(ctx context.Context) store.Store {
	if !a.config.Redis.Enabled {
		return store.NewMemoryStore()
	}
	rs, err := store.NewRedisStore(ctx,
		a.config.Redis.Addr,
		a.config.Redis.Password,
		a.config.Redis.DB,
		a.logger,
	)
	if err != nil {
		a.logger.Warn("Redis connection failed, running without persistence", zap.Error(err))
		return store.NewMemoryStore()
	}
	a.redis = rs
	return rs
}

func (a *App) trackFactory() transport.TrackFactory {
	var ids []string
	for _, id := range []string{a.config.Device.CameraID, a.config.Device.MicID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if a.config.Device.Backend == "pion" {
		stream := a.config.Session.StreamSlug
		if stream == "" {
			stream = "roomlink"
		}
		return pionrtc.NewTrackFactory(stream, ids...)
	}
	return memory.NewDevices(ids...)
}

func (a *App) apiOptions() pionrtc.APIOptions {
	opts := pionrtc.APIOptions{
		UDPPortMin: a.config.WebRTC.UDPPortMin,
		UDPPortMax: a.config.WebRTC.UDPPortMax,
		PublicIP:   a.config.WebRTC.PublicIP,
	}
	if len(a.config.WebRTC.ICEURLs) > 0 {
		opts.ICEServers = []pionrtc.ICEServer{{URLs: a.config.WebRTC.ICEURLs}}
	}
	return opts
}

// NewPeerConnection opens a peer connection with the configured ICE servers.
// It fails unless the pion device backend is selected.
func (a *App) NewPeerConnection() (*webrtc.PeerConnection, error) {
	if a.webrtcAPI == nil {
		return nil, errors.New("webrtc backend not enabled")
	}
	return a.webrtcAPI.NewPeerConnection(pionrtc.Configuration(a.apiOptions()))
}

func (a *App) roomName() string {
	name, _ := a.room.Load().(string)
	return name
}

// Handler returns the HTTP surface of the harness.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", a.hub.HandleWebSocket)
	mux.HandleFunc("/api/connect", a.corsMiddleware(a.handleConnect))
	mux.HandleFunc("/api/disconnect", a.corsMiddleware(a.handleDisconnect))
	mux.HandleFunc("/api/state", a.corsMiddleware(a.handleState))
	mux.HandleFunc("/api/devices", a.corsMiddleware(a.handleDevices))
	mux.HandleFunc("/api/mute", a.corsMiddleware(a.handleMute))
	mux.HandleFunc("/api/device-test", a.corsMiddleware(a.handleDeviceTest))
	mux.HandleFunc("/health", a.handleHealth)

	if a.config.Metrics.Enabled {
		mux.Handle(a.config.Metrics.Path, promhttp.Handler())
	}
	return mux
}

// Start serves until Stop is called. A configured room is joined in the
// background.
func (a *App) Start() error {
	a.logger.Info("Starting roomlink",
		zap.String("host", a.config.Server.Host),
		zap.Int("port", a.config.Server.Port),
	)

	go a.hub.Run(a.ctx)
	if a.relay != nil {
		go a.relay.Run(a.ctx)
	}

	if room := a.config.Session.Room; room != "" {
		go func() {
			if _, err := a.connect(a.ctx, room); err != nil {
				a.logger.Error("Initial connect failed", zap.String("room", room), zap.Error(err))
			}
		}()
	}

	a.httpServer = &http.Server{
		Addr:         a.config.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}

	go func() {
		<-a.ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer shutdownCancel()
		a.httpServer.Shutdown(shutdownCtx)
	}()

	err := a.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop leaves the room and releases every device.
func (a *App) Stop() {
	a.logger.Info("Stopping roomlink")

	a.stopTone()
	a.meter.Stop()
	a.controller.Disconnect()

	releaseCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	a.switcher.Release(releaseCtx)
	a.cancel()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
}

func (a *App) connect(ctx context.Context, room string) (*session.Session, error) {
	a.room.Store(room)
	return a.controller.Connect(ctx, room)
}

// startTone feeds a synthetic tone into the meter until stopTone.
func (a *App) startTone() {
	a.stopTone()

	opts := media.DefaultOptions(media.SourceTestTone)
	opts.NoiseFloor = a.config.Analyzer.NoiseFloor
	opts.Exponent = a.config.Analyzer.Exponent
	opts.Threshold = a.config.Analyzer.Threshold

	node := media.NewChannelNode(8)
	a.meter.StartWithOptions(media.SourceTestTone, node, opts)

	ctx, cancel := context.WithCancel(a.ctx)
	a.toneMu.Lock()
	a.toneCancel = cancel
	a.toneMu.Unlock()

	go func() {
		ticker := time.NewTicker(toneInterval)
		defer ticker.Stop()
		frame := media.ToneFrame(opts.FrameSize, opts.FrameSize/8, 220)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if node.Closed() {
					return
				}
				node.Push(frame)
			}
		}
	}()
}

func (a *App) stopTone() {
	a.toneMu.Lock()
	cancel := a.toneCancel
	a.toneCancel = nil
	a.toneMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
