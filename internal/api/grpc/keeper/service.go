// Package keeper exposes the payment scheduler to keeper bots over gRPC.
//
// Messages are google.protobuf.Struct documents so the service needs no
// generated code; field names match the HTTP API.
package keeper

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "escrow.keeper.v1.KeeperService"

// Full method names, used for interceptor allow lists.
const (
	MethodProcessPayment       = "/" + ServiceName + "/ProcessPayment"
	MethodBatchProcessPayments = "/" + ServiceName + "/BatchProcessPayments"
	MethodIsDue                = "/" + ServiceName + "/IsDue"
	MethodProcessDue           = "/" + ServiceName + "/ProcessDue"
)

// KeeperServiceServer is the server API for KeeperService.
type KeeperServiceServer interface {
	ProcessPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	BatchProcessPayments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	IsDue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ProcessDue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterKeeperServiceServer registers srv on s.
func RegisterKeeperServiceServer(s grpc.ServiceRegistrar, srv KeeperServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(
	fullMethod string,
	call func(srv KeeperServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(KeeperServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(KeeperServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for KeeperService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KeeperServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProcessPayment",
			Handler: unaryHandler(MethodProcessPayment, func(srv KeeperServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ProcessPayment(ctx, req)
			}),
		},
		{
			MethodName: "BatchProcessPayments",
			Handler: unaryHandler(MethodBatchProcessPayments, func(srv KeeperServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.BatchProcessPayments(ctx, req)
			}),
		},
		{
			MethodName: "IsDue",
			Handler: unaryHandler(MethodIsDue, func(srv KeeperServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.IsDue(ctx, req)
			}),
		},
		{
			MethodName: "ProcessDue",
			Handler: unaryHandler(MethodProcessDue, func(srv KeeperServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ProcessDue(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "escrow/keeper/v1/keeper.proto",
}

// Client calls KeeperService on a remote server.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a KeeperService client
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProcessPayment(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodProcessPayment, req, opts...)
}

func (c *Client) BatchProcessPayments(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodBatchProcessPayments, req, opts...)
}

func (c *Client) IsDue(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodIsDue, req, opts...)
}

func (c *Client) ProcessDue(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodProcessDue, req, opts...)
}
