package transport

import (
	"context"

	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"google.golang.org/grpc"
)

const (
	serviceName   = "zerocloud.mesh.v1.Mesh"
	deliverMethod = "/" + serviceName + "/Deliver"
)

// DeliverAck 投递确认
type DeliverAck struct {
	Accepted bool   `json:"accepted"`
	NodeID   string `json:"nodeId"`
}

// MeshServer is implemented by the receiving side of the mesh.
type MeshServer interface {
	Deliver(ctx context.Context, env *protocol.Envelope) (*DeliverAck, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(protocol.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).Deliver(ctx, req.(*protocol.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// meshServiceDesc is written by hand; the mesh has a single unary method
// and carries JSON, so there is no generated stub.
var meshServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MeshServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zerocloud/mesh/v1/mesh.proto",
}
