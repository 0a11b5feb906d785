package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    "github.com/amirimatin/go-l2coord/pkg/voter"
)

const serviceName = "l2coord.v1.Management"

// methodOps maps gRPC method names onto voter operations.
var methodOps = map[string]voter.Op{
    "RegisterVoter":   voter.OpRegister,
    "Heartbeat":       voter.OpHeartbeat,
    "Vote":            voter.OpVote,
    "DeregisterVoter": voter.OpDeregister,
}

// Server implements voter.Server over gRPC using a JSON codec.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu  sync.Mutex
    lis net.Listener
    srv *grpc.Server
}

var _ voter.Server = (*Server)(nil)

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    Allow(ctx context.Context, in *empty) (*voter.AllowResponse, error)
    Call(ctx context.Context, op voter.Op, in *voter.Request) (*voter.Response, error)
}

type mgmtImpl struct{ h voter.Handlers }

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    metrics.RPCRequests.WithLabelValues("grpc", "status").Inc()
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    if m.h.Status == nil { return nil, voter.ErrUnsupported }
    b, err := m.h.Status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) Allow(ctx context.Context, _ *empty) (*voter.AllowResponse, error) {
    metrics.RPCRequests.WithLabelValues("grpc", "allow").Inc()
    ctx, end := tracing.StartSpan(ctx, "grpc.allow")
    defer end()
    if m.h.Allow == nil { return &voter.AllowResponse{Error: voter.ErrUnsupported.Error()}, nil }
    if err := m.h.Allow(ctx); err != nil { return &voter.AllowResponse{Error: err.Error()}, nil }
    return &voter.AllowResponse{Allowed: true}, nil
}

func (m *mgmtImpl) Call(ctx context.Context, op voter.Op, in *voter.Request) (*voter.Response, error) {
    if in == nil { in = &voter.Request{} }
    metrics.RPCRequests.WithLabelValues("grpc", string(op)).Inc()
    _, end := tracing.StartSpan(ctx, "grpc.voter", attribute.String("op", string(op)))
    defer end()
    res, err := voter.Dispatch(m.h.Voting, op, in.Arg)
    if err != nil { return &voter.Response{Error: err.Error()}, nil }
    return &voter.Response{Result: res}, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
func serviceDesc() *grpc.ServiceDesc {
    desc := &grpc.ServiceDesc{
        ServiceName: serviceName,
        HandlerType: (*managementServer)(nil),
        Methods: []grpc.MethodDesc{
            {MethodName: "GetStatus", Handler: getStatusHandler},
            {MethodName: "Allow", Handler: allowHandler},
        },
    }
    for name, op := range methodOps {
        desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: voterHandler(name, op)})
    }
    return desc
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetStatus"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func allowHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).Allow(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Allow"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).Allow(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func voterHandler(method string, op voter.Op) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
    return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
        in := new(voter.Request)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return srv.(managementServer).Call(ctx, op, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
        handler := func(ctx context.Context, req interface{}) (interface{}, error) {
            return srv.(managementServer).Call(ctx, op, req.(*voter.Request))
        }
        return interceptor(ctx, in, info, handler)
    }
}

func (s *Server) Start(ctx context.Context, h voter.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    healthpb.RegisterHealthServer(srv, health.NewServer())
    srv.RegisterService(serviceDesc(), &mgmtImpl{h: h})
    s.mu.Lock()
    s.lis, s.srv = lis, srv
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop stops gracefully, forcing after 2s or when ctx ends.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}
