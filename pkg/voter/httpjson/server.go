package httpjson

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    json "github.com/goccy/go-json"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    "github.com/amirimatin/go-l2coord/pkg/voter"
)

// Server exposes the management endpoints and the voter operations over
// HTTP. Voter operations are POSTed to /voter/{op} with a voter.Request body.
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu   sync.Mutex
    srv  *http.Server
    addr string
}

var _ voter.Server = (*Server)(nil)

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    return &Server{bind: bind, logger: logutil.OrDefault(logger)}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler builds the mux for h. It is exported for tests and for embedding
// into an existing HTTP server.
func Handler(h voter.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Status == nil { http.Error(w, "status not supported", http.StatusNotImplemented); return }
        metrics.RPCRequests.WithLabelValues("http", "status").Inc()
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/allow", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Allow == nil { http.Error(w, "allow not supported", http.StatusNotImplemented); return }
        metrics.RPCRequests.WithLabelValues("http", "allow").Inc()
        ctx, end := tracing.StartSpan(r.Context(), "http.allow")
        defer end()
        w.Header().Set("Content-Type", "application/json")
        if err := h.Allow(ctx); err != nil {
            w.WriteHeader(http.StatusInternalServerError)
            _ = json.NewEncoder(w).Encode(voter.AllowResponse{Error: err.Error()})
            return
        }
        _ = json.NewEncoder(w).Encode(voter.AllowResponse{Allowed: true})
    })
    for _, op := range voter.Ops {
        op := op
        mux.HandleFunc("/voter/"+string(op), func(w http.ResponseWriter, r *http.Request) {
            if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
            if h.Voting == nil { http.Error(w, "voting not supported", http.StatusNotImplemented); return }
            var req voter.Request
            if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
                http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
                return
            }
            metrics.RPCRequests.WithLabelValues("http", string(op)).Inc()
            _, end := tracing.StartSpan(r.Context(), "http.voter", attribute.String("op", string(op)))
            defer end()
            res, err := voter.Dispatch(h.Voting, op, req.Arg)
            w.Header().Set("Content-Type", "application/json")
            if err != nil {
                w.WriteHeader(http.StatusBadRequest)
                _ = json.NewEncoder(w).Encode(voter.Response{Error: err.Error()})
                return
            }
            _ = json.NewEncoder(w).Encode(voter.Response{Result: res})
        })
    }
    return mux
}

// Start launches the HTTP server. The server is shut down when ctx is
// canceled.
func (s *Server) Start(ctx context.Context, h voter.Handlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil { ln = tls.NewListener(ln, s.tlsCfg) }
    srv := &http.Server{Handler: Handler(h), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv = srv
    s.addr = ln.Addr().String()
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}
