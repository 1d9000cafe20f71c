package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ServerConfig gRPC服务端配置
type ServerConfig struct {
	Port       int
	MaxConnAge time.Duration
	KeepAlive  time.Duration
	MaxMsgSize int
}

// DefaultServerConfig returns server settings for port.
func DefaultServerConfig(port int) ServerConfig {
	return ServerConfig{
		Port:       port,
		MaxConnAge: 2 * time.Hour,
		KeepAlive:  30 * time.Second,
		MaxMsgSize: 10 * 1024 * 1024,
	}
}

// EnvelopeSink consumes envelopes accepted by the server.
type EnvelopeSink func(ctx context.Context, env *protocol.Envelope) error

// GRPCServer 网格服务端，接收其他节点投递的消息
type GRPCServer struct {
	cfg    ServerConfig
	nodeID string
	sink   EnvelopeSink

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewGRPCServer 创建gRPC服务端
func NewGRPCServer(cfg ServerConfig, nodeID string, sink EnvelopeSink) *GRPCServer {
	if cfg.MaxMsgSize <= 0 {
		cfg.MaxMsgSize = 10 * 1024 * 1024
	}
	return &GRPCServer{cfg: cfg, nodeID: nodeID, sink: sink}
}

// GetServerOptions 获取gRPC服务器选项
func (s *GRPCServer) GetServerOptions() []grpc.ServerOption {
	var opts []grpc.ServerOption

	// KeepAlive配置
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionAge:      s.cfg.MaxConnAge,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  s.cfg.KeepAlive,
		Timeout:               20 * time.Second,
	}))

	// Enforcement Policy (防止 too_many_pings)
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}))

	// 最大消息大小
	opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxMsgSize))
	opts = append(opts, grpc.MaxSendMsgSize(s.cfg.MaxMsgSize))

	return opts
}

// Deliver 接收一条消息
func (s *GRPCServer) Deliver(ctx context.Context, env *protocol.Envelope) (*DeliverAck, error) {
	if !env.IsCompute() {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported channel %q", env.Channel)
	}
	if env.From == "" {
		return nil, status.Error(codes.InvalidArgument, "envelope has no sender")
	}
	if err := s.sink(ctx, env); err != nil {
		log.Warn().
			Err(err).
			Str("from", env.From).
			Str("type", string(env.Type)).
			Msg("Rejected inbound message")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &DeliverAck{Accepted: true, NodeID: s.nodeID}, nil
}

// Serve runs the server on lis until Stop is called.
func (s *GRPCServer) Serve(lis net.Listener) error {
	srv := grpc.NewServer(s.GetServerOptions()...)
	srv.RegisterService(&meshServiceDesc, s)

	s.mu.Lock()
	s.grpcServer = srv
	s.listener = lis
	s.mu.Unlock()

	return srv.Serve(lis)
}

// Start 启动 gRPC 服务器，阻塞直到 ctx 取消
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}

	log.Info().
		Str("address", addr).
		Str("node_id", s.nodeID).
		Msg("Starting mesh gRPC server")

	go func() {
		if err := s.Serve(listener); err != nil {
			log.Error().Err(err).Msg("Mesh gRPC server failed")
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

// Stop 停止 gRPC 服务器
func (s *GRPCServer) Stop() error {
	log.Info().Msg("Stopping mesh gRPC server")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
	}
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	return nil
}
