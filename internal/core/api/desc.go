package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "abusefilter.v1.FilterAPI"

// Full method names.
const (
	MethodRun         = "/" + ServiceName + "/Run"
	MethodCheckSyntax = "/" + ServiceName + "/CheckSyntax"
	MethodEvaluate    = "/" + ServiceName + "/Evaluate"
	MethodExamine     = "/" + ServiceName + "/Examine"
	MethodListRules   = "/" + ServiceName + "/ListRules"
)

// FilterAPIServer is the server side of the FilterAPI service.
type FilterAPIServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckSyntax(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Examine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type serverMethod func(FilterAPIServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a FilterAPIServer method to grpc's handler shape.
func unaryHandler(fullMethod string, call serverMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FilterAPIServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FilterAPIServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes FilterAPI for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FilterAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(MethodRun, FilterAPIServer.Run)},
		{MethodName: "CheckSyntax", Handler: unaryHandler(MethodCheckSyntax, FilterAPIServer.CheckSyntax)},
		{MethodName: "Evaluate", Handler: unaryHandler(MethodEvaluate, FilterAPIServer.Evaluate)},
		{MethodName: "Examine", Handler: unaryHandler(MethodExamine, FilterAPIServer.Examine)},
		{MethodName: "ListRules", Handler: unaryHandler(MethodListRules, FilterAPIServer.ListRules)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "abusefilter/v1/filter_api",
}

// RegisterFilterAPIServer registers srv with s.
func RegisterFilterAPIServer(s grpc.ServiceRegistrar, srv FilterAPIServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FilterAPIClient calls a FilterAPI server.
type FilterAPIClient struct {
	cc grpc.ClientConnInterface
}

func NewFilterAPIClient(cc grpc.ClientConnInterface) *FilterAPIClient {
	return &FilterAPIClient{cc: cc}
}

func (c *FilterAPIClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FilterAPIClient) Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRun, in, opts...)
}

func (c *FilterAPIClient) CheckSyntax(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCheckSyntax, in, opts...)
}

func (c *FilterAPIClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodEvaluate, in, opts...)
}

func (c *FilterAPIClient) Examine(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodExamine, in, opts...)
}

func (c *FilterAPIClient) ListRules(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListRules, in, opts...)
}
