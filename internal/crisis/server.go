package crisis

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// LexiconServer is the server-side contract of the lexicon service.
type LexiconServer interface {
	Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type lexiconServer struct {
	checker Checker
}

func (s *lexiconServer) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	text := in.GetFields()["text"].GetStringValue()
	level, err := s.checker.Check(ctx, text)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "check: %v", err)
	}
	return structpb.NewStruct(map[string]any{"level": string(level)})
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LexiconServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LexiconServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var lexiconServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LexiconServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterLexiconServer serves checker on s under ServiceName.
func RegisterLexiconServer(s grpc.ServiceRegistrar, checker Checker) {
	s.RegisterService(&lexiconServiceDesc, &lexiconServer{checker: checker})
}

// NewServer returns a gRPC server exposing checker plus the standard health
// service reporting it as SERVING.
func NewServer(checker Checker, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterLexiconServer(s, checker)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}
