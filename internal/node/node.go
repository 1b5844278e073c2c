package node

import (
	"context"
	"errors"
	"fmt"
	"kniffel/internal/config"
	"kniffel/internal/db"
	"kniffel/internal/events"
	"kniffel/internal/gamedata"
	"kniffel/internal/kv"
	"kniffel/internal/metrics"
	"kniffel/internal/peers"
	"kniffel/internal/peersync"
	"kniffel/internal/scoresheet"
	"kniffel/internal/share"
	"kniffel/internal/transport"
	"kniffel/internal/transport/relay"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// Node is one scoresheet with its persistence and sync engine.
type Node struct {
	Store     *gamedata.Store
	Engine    *peersync.Engine
	Directory *peers.Directory
	Settings  *share.SettingsStore
	Bus       *events.Bus
	Registry  *prometheus.Registry
	// DB is nil unless a database url was configured.
	DB *db.DB

	log zerolog.Logger
}

// Options carries what Open needs beyond Config. A nil Network selects the
// relay from Config.RelayURL; a nil KV selects the database or data dir.
type Options struct {
	Network transport.Network
	KV      kv.Store
}

func Open(cfg *config.Config, log zerolog.Logger, opts Options) (*Node, error) {
	n := &Node{
		Bus:      events.NewBus(),
		Registry: prometheus.NewRegistry(),
		log:      log.With().Str("component", "node").Logger(),
	}
	n.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := opts.KV
	if store == nil {
		var err error
		store, err = n.openStorage(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	network := opts.Network
	if network == nil && cfg.RelayURL != "" {
		network = relay.New(cfg.RelayURL, log)
	}

	n.Directory = peers.NewDirectory(store, log)
	n.Settings = share.NewSettingsStore(store, log)
	n.Store = gamedata.NewStore(store, log, n.publish)
	n.Engine = peersync.New(peersync.Config{
		Network:        network,
		Directory:      n.Directory,
		State:          n.Store.State,
		OnUpdate:       n.applyRemote,
		ConnectTimeout: cfg.ConnectTimeout,
		RetryInterval:  cfg.RetryInterval,
		Logger:         log,
		Metrics:        metrics.New(n.Registry),
		Events:         n.Bus,
	})
	return n, nil
}

func (n *Node) openStorage(cfg *config.Config, log zerolog.Logger) (kv.Store, error) {
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		n.DB = database
		return database, nil
	}
	store, err := kv.NewFile(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	n.log.Info().Str("dir", cfg.DataDir).Msg("using file storage")
	return store, nil
}

// publish runs after every committed change. Engine is set before any
// mutation can happen.
func (n *Node) publish(state scoresheet.GameState, origin string) {
	n.Engine.Broadcast(state, origin)
	n.Bus.NotifyState(origin)
}

func (n *Node) applyRemote(state scoresheet.GameState, from string) {
	// Rejected snapshots are logged by the store.
	_ = n.Store.ApplyRemote(state, from)
}

// Start brings up the sync engine. Neither a missing nor an unreachable
// transport is fatal: the scoresheet keeps working locally, the status reports
// not ready and the engine rebinds on its retry interval.
func (n *Node) Start(ctx context.Context) {
	if err := n.Engine.Start(ctx); errors.Is(err, peersync.ErrNotReady) {
		n.log.Warn().Msg("no peer transport configured, sync disabled")
	}
}

// Health reports whether the storage backend is reachable.
func (n *Node) Health() error {
	if n.DB == nil {
		return nil
	}
	return n.DB.Ping()
}

func (n *Node) Close() {
	n.Engine.Stop()
	if n.DB != nil {
		if err := n.DB.Close(); err != nil {
			n.log.Warn().Err(err).Msg("closing database")
		}
	}
}
