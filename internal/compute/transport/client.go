package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ClientConfig gRPC客户端配置
type ClientConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// Dialer overrides the network dialer (used with bufconn in tests).
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultClientConfig returns the settings used by the node daemon.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
}

// GRPCClient gRPC客户端，用于节点间通信
type GRPCClient struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn // endpoint -> conn
	cfg   ClientConfig
}

// NewGRPCClient 创建gRPC客户端
func NewGRPCClient(cfg ClientConfig) *GRPCClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &GRPCClient{conns: make(map[string]*grpc.ClientConn), cfg: cfg}
}

// getOrCreateConnection 获取或创建到指定地址的连接
func (c *GRPCClient) getOrCreateConnection(endpoint string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	conn, ok := c.conns[endpoint]
	c.mu.RUnlock()
	if ok {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 双重检查
	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.cfg.KeepAlive,
			Timeout:             c.cfg.Timeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	if c.cfg.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(c.cfg.Dialer))
	}

	log.Debug().Str("endpoint", endpoint).Msg("Dialing mesh node")
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", endpoint)
	}
	c.conns[endpoint] = conn
	return conn, nil
}

// Deliver sends env to the node at endpoint.
func (c *GRPCClient) Deliver(ctx context.Context, endpoint string, env *protocol.Envelope) (*DeliverAck, error) {
	conn, err := c.getOrCreateConnection(endpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ack := new(DeliverAck)
	if err := conn.Invoke(ctx, deliverMethod, env, ack); err != nil {
		return nil, errors.Wrapf(err, "deliver %s to %s", env.Type, endpoint)
	}
	return ack, nil
}

// CloseConnection 关闭到指定地址的连接
func (c *GRPCClient) CloseConnection(endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[endpoint]; ok {
		delete(c.conns, endpoint)
		if err := conn.Close(); err != nil {
			return errors.Wrapf(err, "failed to close connection to %s", endpoint)
		}
	}
	return nil
}

// Close 关闭所有连接
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for endpoint, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "failed to close connection to %s", endpoint))
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)

	if len(errs) > 0 {
		return errors.Errorf("errors closing connections: %v", errs)
	}
	return nil
}
