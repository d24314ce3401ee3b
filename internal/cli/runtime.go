package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/config"
	"github.com/roach88/pwasync/internal/engine"
	"github.com/roach88/pwasync/internal/log"
	"github.com/roach88/pwasync/internal/netstate"
	"github.com/roach88/pwasync/internal/notify/redis"
	"github.com/roach88/pwasync/internal/speed"
	"github.com/roach88/pwasync/internal/store"
	"github.com/roach88/pwasync/internal/transport"
)

// errNoServer is returned by the placeholder transport used when no server
// URL is configured. Commands that dispatch require a server up front, so
// it is never expected to surface.
var errNoServer = errors.New("server.url is not configured")

type noServer struct{}

func (noServer) Send(context.Context, action.Item) (action.Result, error) {
	return action.Result{}, errNoServer
}

// runtimeMode selects what openRuntime wires.
type runtimeMode int

const (
	// modeLocal works against the queue only.
	modeLocal runtimeMode = iota
	// modeDispatch needs the server transport.
	modeDispatch
	// modeServe is the long-running process: server required, auto-sync on.
	modeServe
)

// runtime is one fully wired engine for the duration of a command.
type runtime struct {
	cfg     *config.Config
	store   *store.Store
	manager *netstate.Manager
	engine  *engine.Engine
	monitor *speed.Monitor
	http    *transport.HTTP
	log     *log.Logger
}

// openRuntime loads config, opens the store and initializes an engine.
// Callers must Close the result.
func openRuntime(cmd *cobra.Command, opts *RootOptions, mode runtimeMode) (*runtime, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if mode != modeLocal && cfg.Server.URL == "" {
		return nil, NewExitError(ExitCommandError, "server.url is not configured")
	}

	st, err := store.Open(cfg.Database, store.WithHistoryRetention(cfg.Network.HistoryRetention.Duration))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	rt := &runtime{cfg: cfg, store: st}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		if deviceID, err = st.DeviceID(ctx); err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to resolve device id", err)
		}
	}

	rt.log = log.Nop()
	if opts.Verbose || mode == modeServe {
		rt.log = log.NewLogger(log.Options{DeviceID: deviceID, Verbose: opts.Verbose}).WithOutput(cmd.ErrOrStderr())
	}

	rt.monitor = speed.NewMonitor(
		speed.WithRetention(cfg.Network.SampleRetention.Duration),
		speed.WithWindow(cfg.Network.SpeedWindow.Duration),
		speed.WithLivenessPattern(cfg.Network.LivenessPattern),
		speed.WithLogger(rt.log),
	)

	managerOpts := []netstate.ManagerOption{
		netstate.WithStore(netstate.NewSoftStore(st, rt.log, netstate.WithNotFound(func(err error) bool {
			return errors.Is(err, store.ErrNotFound)
		}))),
		netstate.WithSpeedSource(rt.monitor),
		netstate.WithPollConfig(cfg.PollConfig()),
		netstate.WithLogger(rt.log),
	}

	var tr engine.Transport = noServer{}
	if cfg.Server.URL != "" {
		codec, err := transport.ParseCodec(cfg.Server.Codec)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "invalid server config", err)
		}
		rt.http, err = transport.New(transport.Config{
			URL:         cfg.Server.URL,
			LivenessURL: cfg.Server.LivenessURL,
			Headers:     cfg.Server.Headers,
			Timeout:     cfg.Server.Timeout.Duration,
			Codec:       codec,
			DeviceID:    deviceID,
		}, transport.WithMonitor(rt.monitor), transport.WithLogger(rt.log))
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "invalid server config", err)
		}
		tr = rt.http
		managerOpts = append(managerOpts, netstate.WithProber(rt.http))
	}
	rt.manager = netstate.NewManager(managerOpts...)

	engineOpts := []engine.Option{
		engine.WithLogger(rt.log),
		engine.WithDeviceID(deviceID),
		engine.WithAutoSync(mode == modeServe && cfg.Sync.AutoOnReconnect),
		engine.WithEngineItemTimeout(cfg.Sync.ItemTimeout.Duration),
	}
	if cfg.Notify.RedisURL != "" {
		pub, err := redis.New(redis.Config{
			URL:      cfg.Notify.RedisURL,
			Channel:  cfg.Notify.Channel,
			Timeout:  cfg.Notify.Timeout.Duration,
			Retries:  cfg.Notify.Retries,
			DeviceID: deviceID,
		})
		if err != nil {
			rt.closeTransport()
			st.Close()
			return nil, WrapExitError(ExitCommandError, "invalid notify config", err)
		}
		engineOpts = append(engineOpts, engine.WithNotifier(pub))
	}

	rt.engine = engine.New(st, rt.manager, tr, engineOpts...)
	if err := rt.engine.Init(ctx); err != nil {
		rt.closeTransport()
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to initialize engine", err)
	}

	if cfg.Network.AutoOffline && !rt.engine.State().AutoOffline {
		_, _ = rt.engine.SetNetwork(ctx, netstate.Partial{AutoOffline: netstate.Bool(true)})
	}
	return rt, nil
}

// Close shuts the engine down and releases the store.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.engine.Shutdown(ctx); err != nil {
		r.log.Warn("engine shutdown incomplete", map[string]any{"error": err})
	}
	r.closeTransport()
	if err := r.store.Close(); err != nil {
		r.log.Warn("failed to close store", map[string]any{"error": err})
	}
}

func (r *runtime) closeTransport() {
	if r.http != nil {
		_ = r.http.Close()
	}
}
