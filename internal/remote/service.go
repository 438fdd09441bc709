package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stopcheck.v1.HistoryService"

const (
	methodGetHistory      = "/" + ServiceName + "/GetHistory"
	methodGetCoefficients = "/" + ServiceName + "/GetCoefficients"
)

// HistoryServer serves stored early-stop histories. Requests and responses
// are google.protobuf.Struct payloads; see payload.go for their fields.
type HistoryServer interface {
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCoefficients(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var historyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetHistory", Handler: getHistoryHandler},
		{MethodName: "GetCoefficients", Handler: getCoefficientsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stopcheck/v1/history.proto",
}

// RegisterHistoryServer registers srv on s.
func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&historyServiceDesc, srv)
}

func getHistoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryServer).GetHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetHistory}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistoryServer).GetHistory(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getCoefficientsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryServer).GetCoefficients(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetCoefficients}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistoryServer).GetCoefficients(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc
