// Package grpcapi carries the command envelope over gRPC. The service has a
// single unary method whose request and response are serialised envelopes
// wrapped in google.protobuf.BytesValue.
package grpcapi

import (
	"context"

	pkgerrors "weldon/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "weldon.v1.Gateway"
	// CallMethod is the full method path of the envelope call.
	CallMethod = "/" + ServiceName + "/Call"
)

// Dispatcher runs one serialised envelope.
type Dispatcher interface {
	DispatchBytes(ctx context.Context, data []byte) []byte
}

// GatewayServer is the server API for the envelope service.
type GatewayServer interface {
	Call(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type gatewayServer struct {
	dispatcher Dispatcher
}

// NewGatewayServer adapts a dispatcher to the gRPC service.
func NewGatewayServer(d Dispatcher) GatewayServer {
	return &gatewayServer{dispatcher: d}
}

// Call dispatches one envelope. Command failures travel inside the
// envelope; only transport misuse surfaces as a gRPC status.
func (s *gatewayServer) Call(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if req == nil || len(req.GetValue()) == 0 {
		return nil, mapError(pkgerrors.ProtocolError(nil, "empty envelope"))
	}
	return wrapperspb.Bytes(s.dispatcher.DispatchBytes(ctx, req.GetValue())), nil
}

// RegisterGatewayServer registers srv on s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CallMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GatewayServer).Call(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "weldon/v1/gateway.proto",
}

func mapError(err error) error {
	code := pkgerrors.GetCode(err)
	msg := pkgerrors.GetError(err).Error()
	switch code.Kind() {
	case pkgerrors.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case pkgerrors.KindValidation, pkgerrors.KindTestValidation, pkgerrors.KindProtocol:
		return status.Error(codes.InvalidArgument, msg)
	case pkgerrors.KindAuth:
		return status.Error(codes.Unauthenticated, msg)
	case pkgerrors.KindPermission:
		return status.Error(codes.PermissionDenied, msg)
	case pkgerrors.KindRateLimited:
		return status.Error(codes.ResourceExhausted, msg)
	case pkgerrors.KindJudgeTimeout:
		return status.Error(codes.DeadlineExceeded, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
