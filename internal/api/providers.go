package api

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/coordinator"
	"github.com/ulfberto/zerocloud/internal/compute/heartbeat"
	"github.com/ulfberto/zerocloud/internal/compute/inference"
	"github.com/ulfberto/zerocloud/internal/compute/node"
	"github.com/ulfberto/zerocloud/internal/compute/pipeline"
	"github.com/ulfberto/zerocloud/internal/compute/planner"
	"github.com/ulfberto/zerocloud/internal/compute/probe"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/compute/storage"
	"github.com/ulfberto/zerocloud/internal/compute/task"
	"github.com/ulfberto/zerocloud/internal/compute/transfer"
	"github.com/ulfberto/zerocloud/internal/compute/transport"
	"github.com/ulfberto/zerocloud/internal/config"
)

// PROVIDERS - define here only providers that for various reasons (e.g. cyclic dependency) can't live in their corresponding packages
// or for wrapping providers that only accept sub-configs to prevent the requirements for defining providers for sub-configs.
// https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

func NewClock(t ...*testing.T) time2.Clock {
	var clock time2.Clock

	useMock := len(t) > 0 && t[0] != nil

	if useMock {
		clock = time2.NewMockClock(time.Now())
	} else {
		clock = time2.DefaultClock
	}

	return clock
}

func NoTest() []*testing.T {
	return nil
}

func NewRedisClient(cfg config.Server) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, errors.New("redis address is not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}

	return client, nil
}

// NewTaskStore uses Redis when an address is configured and the in-memory
// store otherwise.
func NewTaskStore(cfg config.Server, clock time2.Clock) (storage.TaskStore, error) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("No redis address configured, keeping task snapshots in memory")
		return storage.NewMemoryStore(clock), nil
	}

	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewRedisStore(client), nil
}

func NewRecorder(cfg config.Server, store storage.TaskStore) *storage.Recorder {
	return storage.NewRecorder(store, cfg.Redis.TaskTTL, 0)
}

// NewTransport creates the gRPC mesh transport from the node config.
func NewTransport(cfg config.Server) (transport.Transport, error) {
	peers, err := transport.ParsePeers(cfg.Node.Peers)
	if err != nil {
		return nil, errors.Wrap(err, "invalid peer list")
	}

	endpoint := cfg.Node.AdvertiseAddr
	if endpoint == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "localhost"
		}
		endpoint = fmt.Sprintf("%s:%d", hostname, cfg.Node.GRPCPort)
	}

	return transport.NewGRPCTransport(
		cfg.Node.ID,
		endpoint,
		transport.DefaultServerConfig(cfg.Node.GRPCPort),
		transport.DefaultClientConfig(),
		peers,
	), nil
}

func NewTable(cfg config.Server, clock time2.Clock) *node.Table {
	name := cfg.Node.DisplayName
	if name == "" {
		name = cfg.Node.ID
	}
	self := protocol.NodeInfo{
		PeerID:      cfg.Node.ID,
		DisplayName: name,
	}
	return node.NewTable(self, cfg.Node.Coordinator, clock)
}

func NewRegistry(clock time2.Clock, recorder *storage.Recorder) *task.Registry {
	return task.NewRegistry(clock, recorder.Observe)
}

func NewAssembler(cfg config.Server, clock time2.Clock) *transfer.Assembler {
	return transfer.NewAssembler(cfg.Transfer.DiscardDelay, clock)
}

func NewSender(cfg config.Server, tr transport.Transport) *transfer.Sender {
	return transfer.NewSender(tr, cfg.Transfer.ChunkSize, cfg.Transfer.Threshold)
}

func NewEngine(cfg config.Server) (inference.Engine, error) {
	return inference.NewReference(inference.ReferenceConfig{
		Width:      cfg.Compute.EngineWidth,
		TotalUnits: cfg.Compute.TotalUnits,
		Seed:       cfg.Compute.EngineSeed,
	})
}

// NewProber selects the adapter source: none for relay-only nodes, fixed
// metadata when a vendor is configured, the host CPU otherwise.
func NewProber(cfg config.Server) *probe.Prober {
	var adapter probe.AdapterSource
	switch {
	case cfg.Compute.RelayOnly:
		adapter = probe.NoDevice
	case cfg.Compute.Vendor != "":
		host, err := probe.HostAdapter()
		if err != nil {
			adapter = probe.NoDevice
			break
		}
		host.Vendor = cfg.Compute.Vendor
		if cfg.Compute.Architecture != "" {
			host.Architecture = cfg.Compute.Architecture
		}
		adapter = probe.StaticAdapter(*host)
	default:
		adapter = probe.HostAdapter
	}
	return probe.NewProber(adapter, probe.DefaultConfig())
}

func NewPlanner(cfg config.Server, clock time2.Clock) *planner.Planner {
	return planner.New(cfg.Compute.HopLatency, clock)
}

func NewExecutor(
	cfg config.Server,
	table *node.Table,
	tr transport.Transport,
	sender *transfer.Sender,
	assembler *transfer.Assembler,
	engine inference.Engine,
	registry *task.Registry,
	clock time2.Clock,
) *pipeline.Executor {
	return pipeline.NewExecutor(
		pipeline.Config{StageTimeout: cfg.Compute.StageTimeout},
		table, tr, sender, assembler, engine, registry, clock,
	)
}

func NewCoordinator(
	cfg config.Server,
	tr transport.Transport,
	table *node.Table,
	registry *task.Registry,
	plnr *planner.Planner,
	prober *probe.Prober,
	executor *pipeline.Executor,
	assembler *transfer.Assembler,
	engine inference.Engine,
	clock time2.Clock,
	recorder *storage.Recorder,
) *coordinator.Service {
	coordCfg := coordinator.Config{
		ModelID:          cfg.Compute.ModelID,
		TotalUnits:       cfg.Compute.TotalUnits,
		FallbackTimeout:  cfg.Compute.FallbackTimeout,
		HeartbeatTimeout: cfg.Heartbeat.Timeout,
		PruneAfter:       cfg.Heartbeat.PruneAfter,
		Heartbeat: heartbeat.Config{
			Interval:      cfg.Heartbeat.Interval,
			SweepInterval: cfg.Heartbeat.SweepInterval,
		},
	}
	return coordinator.NewService(coordCfg, tr, table, registry, plnr, prober, executor, assembler, engine, clock, recorder.Observe)
}
