package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/ulfberto/zerocloud/internal/observability"
	"github.com/ulfberto/zerocloud/internal/util"
	"gopkg.in/yaml.v3"
)

// Node 本节点身份与网格配置
type Node struct {
	ID            string `yaml:"id"`
	DisplayName   string `yaml:"displayName"`
	Coordinator   bool   `yaml:"coordinator"`
	GRPCPort      int    `yaml:"grpcPort"`
	AdvertiseAddr string `yaml:"advertiseAddr"` // host:port other nodes dial
	Peers         string `yaml:"peers"`         // id@host:port,...
}

type EchoServer struct {
	ListenAddress string `yaml:"listenAddress"`
}

// Heartbeat 心跳与成员超时配置
type Heartbeat struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	PruneAfter    time.Duration `yaml:"pruneAfter"`
}

// Transfer 分块传输配置
type Transfer struct {
	ChunkSize    int           `yaml:"chunkSize"`
	Threshold    int           `yaml:"threshold"`
	DiscardDelay time.Duration `yaml:"discardDelay"`
}

// Compute 计算任务配置
type Compute struct {
	ModelID         string        `yaml:"modelId"`
	TotalUnits      int           `yaml:"totalUnits"`
	FallbackTimeout time.Duration `yaml:"fallbackTimeout"`
	StageTimeout    time.Duration `yaml:"stageTimeout"`
	HopLatency      time.Duration `yaml:"hopLatency"`
	// Vendor/Architecture override the probed adapter metadata when set.
	Vendor       string `yaml:"vendor"`
	Architecture string `yaml:"architecture"`
	RelayOnly    bool   `yaml:"relayOnly"`
	EngineWidth  int    `yaml:"engineWidth"`
	EngineSeed   int64  `yaml:"engineSeed"`
}

// Redis 任务快照存储，Addr 为空时使用内存存储
type Redis struct {
	Addr    string        `yaml:"addr"`
	TaskTTL time.Duration `yaml:"taskTTL"`
}

type Logger struct {
	Level  zerolog.Level `yaml:"level"`
	Pretty bool          `yaml:"pretty"`
}

// Server 节点服务配置
type Server struct {
	Node      Node                        `yaml:"node"`
	Echo      EchoServer                  `yaml:"echo"`
	Heartbeat Heartbeat                   `yaml:"heartbeat"`
	Transfer  Transfer                    `yaml:"transfer"`
	Compute   Compute                     `yaml:"compute"`
	Redis     Redis                       `yaml:"redis"`
	Logger    Logger                      `yaml:"logger"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
}

// DefaultServiceConfigFromEnv returns the server config as parsed from
// environment variables and their respective defaults.
func DefaultServiceConfigFromEnv() Server {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "node-1"
	}

	return Server{
		Node: Node{
			ID:            util.GetEnvString("ZC_NODE_ID", hostname),
			DisplayName:   util.GetEnvString("ZC_DISPLAY_NAME", ""),
			Coordinator:   util.GetEnvBool("ZC_COORDINATOR", false),
			GRPCPort:      util.GetEnvAsInt("ZC_GRPC_PORT", 9090),
			AdvertiseAddr: util.GetEnvString("ZC_ADVERTISE_ADDR", ""),
			Peers:         util.GetEnvString("ZC_PEERS", ""),
		},
		Echo: EchoServer{
			ListenAddress: util.GetEnvString("ZC_HTTP_ADDR", ":8080"),
		},
		Heartbeat: Heartbeat{
			Interval:      util.GetEnvDuration("ZC_HEARTBEAT_INTERVAL", 5*time.Second),
			Timeout:       util.GetEnvDuration("ZC_HEARTBEAT_TIMEOUT", 15*time.Second),
			SweepInterval: util.GetEnvDuration("ZC_SWEEP_INTERVAL", 5*time.Second),
			PruneAfter:    util.GetEnvDuration("ZC_PRUNE_AFTER", 60*time.Second),
		},
		Transfer: Transfer{
			ChunkSize:    util.GetEnvAsInt("ZC_CHUNK_SIZE", 16*1024),
			Threshold:    util.GetEnvAsInt("ZC_CHUNK_THRESHOLD", 16*1024),
			DiscardDelay: util.GetEnvDuration("ZC_CHUNK_DISCARD_DELAY", 30*time.Second),
		},
		Compute: Compute{
			ModelID:         util.GetEnvString("ZC_MODEL_ID", "reference"),
			TotalUnits:      util.GetEnvAsInt("ZC_TOTAL_UNITS", 32),
			FallbackTimeout: util.GetEnvDuration("ZC_FALLBACK_TIMEOUT", 30*time.Second),
			StageTimeout:    util.GetEnvDuration("ZC_STAGE_TIMEOUT", 30*time.Second),
			HopLatency:      util.GetEnvDuration("ZC_HOP_LATENCY", 50*time.Millisecond),
			Vendor:          util.GetEnvString("ZC_GPU_VENDOR", ""),
			Architecture:    util.GetEnvString("ZC_GPU_ARCH", ""),
			RelayOnly:       util.GetEnvBool("ZC_RELAY_ONLY", false),
			EngineWidth:     util.GetEnvAsInt("ZC_ENGINE_WIDTH", 64),
			EngineSeed:      int64(util.GetEnvAsInt("ZC_ENGINE_SEED", 7)),
		},
		Redis: Redis{
			Addr:    util.GetEnvString("ZC_REDIS_ADDR", ""),
			TaskTTL: util.GetEnvDuration("ZC_TASK_TTL", 10*time.Minute),
		},
		Logger: Logger{
			Level:  util.LogLevelFromString(util.GetEnvString("ZC_LOG_LEVEL", zerolog.InfoLevel.String())),
			Pretty: util.GetEnvBool("ZC_LOG_PRETTY", false),
		},
		Tracing: observability.TracingConfigFromEnv(),
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Server) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return nil
}

// Validate rejects settings the cluster cannot run with.
func (s Server) Validate() error {
	if s.Node.ID == "" {
		return errors.New("node id must not be empty")
	}
	if s.Heartbeat.Interval <= 0 || s.Heartbeat.SweepInterval <= 0 {
		return errors.New("heartbeat and sweep intervals must be positive")
	}
	if s.Heartbeat.Timeout < 3*s.Heartbeat.Interval {
		return errors.Errorf("heartbeat timeout %v must be at least 3x the interval %v", s.Heartbeat.Timeout, s.Heartbeat.Interval)
	}
	if s.Transfer.ChunkSize <= 0 || s.Transfer.Threshold <= 0 {
		return errors.New("chunk size and threshold must be positive")
	}
	if s.Compute.TotalUnits <= 0 {
		return errors.New("total units must be positive")
	}
	if s.Compute.FallbackTimeout <= 0 {
		return errors.New("fallback timeout must be positive")
	}
	return nil
}
