package api

import (
	"context"
	"net/http"
	"reflect"
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/coordinator"
	"github.com/ulfberto/zerocloud/internal/compute/storage"
	"github.com/ulfberto/zerocloud/internal/compute/transport"
	"github.com/ulfberto/zerocloud/internal/config"
)

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
	APIV1Tasks *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`

	Config      config.Server
	Clock       time2.Clock
	Transport   transport.Transport
	Coordinator *coordinator.Service
	Store       storage.TaskStore
	Recorder    *storage.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	clock time2.Clock,
	tr transport.Transport,
	coord *coordinator.Service,
	store storage.TaskStore,
	recorder *storage.Recorder,
) *Server {
	return &Server{
		Config:      cfg,
		Clock:       clock,
		Transport:   tr,
		Coordinator: coord,
		Store:       store,
		Recorder:    recorder,
	}
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

// Ready reports whether every wired component is set.
func (s *Server) Ready() bool {
	v := reflect.ValueOf(s).Elem()
	for _, name := range []string{"Echo", "Router", "Clock", "Transport", "Coordinator", "Store", "Recorder"} {
		if v.FieldByName(name).IsNil() {
			log.Debug().Str("component", name).Msg("Server is not fully initialized")
			return false
		}
	}
	return true
}

// mesh is implemented by transports that own a listener.
type mesh interface {
	Start(ctx context.Context) error
	Close() error
}

// Start brings up the mesh listener, the task recorder and the cluster
// membership, then serves HTTP. It blocks until the HTTP server stops.
func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// 1. 网格传输
	if m, ok := s.Transport.(mesh); ok {
		s.done.Add(1)
		go func() {
			defer s.done.Done()
			if err := m.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Mesh transport failed")
			}
		}()
	}

	// 2. 任务快照持久化
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.Recorder.Run(ctx)
	}()

	// 3. 加入集群并启动心跳
	if err := s.Coordinator.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start coordinator")
	}

	log.Info().
		Str("node_id", s.Config.Node.ID).
		Bool("coordinator", s.Config.Node.Coordinator).
		Int("grpc_port", s.Config.Node.GRPCPort).
		Str("http", s.Config.Echo.ListenAddress).
		Msg("Node started")

	// 4. HTTP
	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return errors.Wrap(err, "failed to start echo server")
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	// 1. 通知其他节点离开
	if s.Coordinator != nil {
		log.Debug().Msg("Leaving cluster")
		s.Coordinator.Stop(ctx)
	}

	// 2. 关闭 HTTP 服务器
	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")
		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	// 3. 停止后台任务并刷新快照
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.done.Wait()
	}

	// 4. 关闭传输
	if m, ok := s.Transport.(mesh); ok {
		log.Debug().Msg("Closing mesh transport")
		if err := m.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close mesh transport")
			errs = append(errs, err)
		}
	}

	// 5. 关闭存储
	if closer, ok := s.Store.(interface{ Close() error }); ok {
		log.Debug().Msg("Closing task store")
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close task store")
			errs = append(errs, err)
		}
	}

	return errs
}
