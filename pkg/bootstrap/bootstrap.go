package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "io"
    "log"
    "strings"
    "time"

    "dario.cat/mergo"
    "github.com/google/uuid"

    "github.com/amirimatin/go-l2coord/pkg/cluster"
    "github.com/amirimatin/go-l2coord/pkg/consistency"
    "github.com/amirimatin/go-l2coord/pkg/election"
    "github.com/amirimatin/go-l2coord/pkg/group"
    ml "github.com/amirimatin/go-l2coord/pkg/group/memberlist"
    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/persistence"
    tlsx "github.com/amirimatin/go-l2coord/pkg/security/tlsconfig"
    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
    tDNS "github.com/amirimatin/go-l2coord/pkg/topology/dns"
    tFile "github.com/amirimatin/go-l2coord/pkg/topology/file"
    tStatic "github.com/amirimatin/go-l2coord/pkg/topology/static"
    "github.com/amirimatin/go-l2coord/pkg/voter"
    vgrpc "github.com/amirimatin/go-l2coord/pkg/voter/grpc"
    "github.com/amirimatin/go-l2coord/pkg/voter/httpjson"
)

var ErrUnknownProto = errors.New("bootstrap: unknown management protocol")

// Config defines high-level inputs to assemble a coordinator node with
// sensible defaults. Applications embed the node by providing this
// structure and calling Build/Run.
type Config struct {
    // Identity and addresses
    NodeID  string
    MemBind string // group bind host:port
    MemAdv  string // optional advertise host:port

    // Management and voter API
    MgmtAddr  string // host:port
    MgmtProto string // "http" (default) or "grpc"

    // Server roster
    TopologyKind string // "static" (default) or "file"
    ServersCSV   string // "id@host:port,..." when kind=static
    TopologyFile string // when kind=file
    TopologyEnv  string // when kind=file

    // Extra join seeds from DNS (SRV or A/AAAA names), for rosters without
    // addresses.
    SeedDNS       string // comma-separated names
    SeedDNSPort   int    // port for A/AAAA answers
    SeedDNSServer string // optional DNS server host:port for SRV queries

    // Failover behavior: "availability", "consistency" or empty. Empty is a
    // fatal configuration error for more than one server.
    Failover  string
    VoteCount int
    // SkipStartupGate lets a node promote itself out of START before every
    // other server has been seen.
    SkipStartupGate bool

    ElectionTime          time.Duration
    RetryInterval         time.Duration
    DiagnosticAfter       int
    VoteTimeout           time.Duration
    VoterHeartbeatTimeout time.Duration

    // Persistence; empty keeps server state in memory.
    DataDir string

    // TLS (optional) for the management API
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger

    // Synchronizer brings a passive up to date with the active (optional).
    Synchronizer election.Synchronizer

    // Optional callbacks
    OnFatal        func(err error)
    OnModeChange   func(old, new string)
    OnActiveChange func(active string)
}

func defaultConfig() Config {
    return Config{
        MemBind:      "0.0.0.0:7946",
        MgmtAddr:     "127.0.0.1:8080",
        MgmtProto:    "http",
        TopologyKind: "static",
        ElectionTime: 5 * time.Second,
        VoteTimeout:  30 * time.Second,
        Logger:       log.Default(),
    }
}

// WithDefaults fills every unset field of cfg from the defaults.
func WithDefaults(cfg Config) (Config, error) {
    if err := mergo.Merge(&cfg, defaultConfig()); err != nil { return cfg, fmt.Errorf("bootstrap: defaults: %w", err) }
    return cfg, nil
}

// TLS returns the TLS options described by cfg.
func (c Config) TLS() tlsx.Options {
    return tlsx.Options{Enable: c.TLSEnable, CAFile: c.TLSCA, CertFile: c.TLSCert, KeyFile: c.TLSKey, InsecureSkipVerify: c.TLSSkipVerify, ServerName: c.TLSServerName}
}

// Topology builds the configured server roster.
func (c Config) Topology() (topology.Topology, error) {
    switch strings.ToLower(c.TopologyKind) {
    case "file":
        if c.TopologyFile == "" && c.TopologyEnv == "" { return nil, errors.New("bootstrap: topology file or env required") }
        return tFile.New(tFile.Options{Path: c.TopologyFile, Env: c.TopologyEnv}), nil
    case "", "static":
        return tStatic.Parse(c.ServersCSV)
    default:
        return nil, fmt.Errorf("bootstrap: unknown topology kind %q", c.TopologyKind)
    }
}

// Seeder returns the DNS seeder, or nil when no names are configured.
func (c Config) Seeder() topology.Seeder {
    names := tDNS.Parse(c.SeedDNS)
    if len(names) == 0 { return nil }
    return tDNS.New(tDNS.Options{Names: names, Port: c.SeedDNSPort, Server: c.SeedDNSServer, Logger: c.Logger})
}

// NewVoterClient returns a management/voter client for proto, with TLS
// when opts enables it. The closer is nil when the transport holds no
// connections.
func NewVoterClient(proto string, opts tlsx.Options, timeout time.Duration) (*voter.Client, io.Closer, error) {
    cliTLS, err := opts.ClientHotReload()
    if err != nil { return nil, nil, err }
    switch strings.ToLower(proto) {
    case "grpc":
        c := vgrpc.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return voter.NewClient(c), c, nil
    case "", "http":
        c := httpjson.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return voter.NewClient(c), nil, nil
    default:
        return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProto, proto)
    }
}

func newVoterServer(cfg Config, srvTLS *tls.Config) (voter.Server, error) {
    switch strings.ToLower(cfg.MgmtProto) {
    case "grpc":
        s := vgrpc.NewServer(cfg.MgmtAddr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    case "", "http":
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    default:
        return nil, fmt.Errorf("%w: %q", ErrUnknownProto, cfg.MgmtProto)
    }
}

// newGate picks the consistency manager for the failover behavior and wraps
// it in the startup gate. The returned Service is the voter surface of the
// inner manager.
func newGate(cfg Config, self state.NodeID, top topology.Topology, view consistency.PeerView, store *persistence.Store) (consistency.ConsistencyManager, voter.Service, error) {
    servers := len(top.Members())
    fb, err := consistency.ParseFailover(cfg.Failover, cfg.VoteCount)
    if err != nil { return nil, nil, err }
    votes, err := consistency.ParseVoteCount(fb, servers)
    if err != nil { return nil, nil, err }
    var (
        inner  consistency.ConsistencyManager
        voting voter.Service
    )
    if fb != nil && fb.Type == consistency.Availability {
        a := consistency.NewAvailability(cfg.Logger)
        inner, voting = a, a
    } else {
        m, err := consistency.New(consistency.Options{
            Self:         self,
            Topology:     top,
            View:         view,
            VoteCount:    votes,
            VoteTimeout:  cfg.VoteTimeout,
            VoterTimeout: cfg.VoterHeartbeatTimeout,
            Store:        store,
            Logger:       cfg.Logger,
        })
        if err != nil { return nil, nil, err }
        inner, voting = m, m
    }
    return consistency.NewSafeStartup(!cfg.SkipStartupGate, servers-1, inner, cfg.Logger), voting, nil
}

// Build assembles a cluster.Cluster from Config without starting it.
func Build(cfg Config) (*cluster.Cluster, error) {
    cfg, err := WithDefaults(cfg)
    if err != nil { return nil, err }
    if cfg.NodeID == "" { return nil, errors.New("bootstrap: empty NodeID") }
    self := state.NodeID(cfg.NodeID)

    top, err := cfg.Topology()
    if err != nil { return nil, err }
    if !topology.Contains(top, self) {
        logutil.Warnf(cfg.Logger, "bootstrap: %s is not in the configured server list", cfg.NodeID)
    }

    var store *persistence.Store
    if cfg.DataDir == "" {
        store = persistence.NewInmem()
    } else if store, err = persistence.Open(cfg.DataDir); err != nil {
        return nil, err
    }
    fail := func(err error) (*cluster.Cluster, error) {
        _ = store.Close()
        return nil, err
    }

    // The management address travels in group metadata so that peers and
    // operators can reach the active.
    meta := map[string]string{
        group.MetaMgmtAddr:  cfg.MgmtAddr,
        group.MetaMgmtProto: strings.ToLower(cfg.MgmtProto),
        group.MetaBootID:    uuid.NewString(),
    }
    grp, err := ml.New(ml.Options{NodeID: self, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Logger: cfg.Logger, Meta: meta})
    if err != nil { return fail(err) }

    gate, voting, err := newGate(cfg, self, top, grp, store)
    if err != nil { return fail(err) }
    factory, err := election.NewFactory(store, func() int { return len(grp.Peers()) }, time.Now())
    if err != nil { return fail(err) }

    srvTLS, err := cfg.TLS().ServerHotReload()
    if err != nil { return fail(err) }
    srv, err := newVoterServer(cfg, srvTLS)
    if err != nil { return fail(err) }
    cli, cliCloser, err := NewVoterClient(cfg.MgmtProto, cfg.TLS(), 3*time.Second)
    if err != nil { return fail(err) }

    closers := []io.Closer{store}
    if cliCloser != nil { closers = append(closers, cliCloser) }
    cl, err := cluster.New(cluster.Options{
        Election: election.Options{
            Group:           grp,
            Gate:            gate,
            Factory:         factory,
            Store:           store,
            Synchronizer:    cfg.Synchronizer,
            ElectionTime:    cfg.ElectionTime,
            RetryInterval:   cfg.RetryInterval,
            DiagnosticAfter: cfg.DiagnosticAfter,
            Logger:          cfg.Logger,
            OnFatal:         cfg.OnFatal,
        },
        Topology:       top,
        Seeder:         cfg.Seeder(),
        RPCServer:      srv,
        RPCClient:      cli,
        Voting:         voting,
        Closers:        closers,
        Logger:         cfg.Logger,
        OnModeChange:   cfg.OnModeChange,
        OnActiveChange: cfg.OnActiveChange,
    })
    if err != nil { return fail(err) }
    return cl, nil
}

// Run builds and starts the node, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
    cl, err := Build(cfg)
    if err != nil { return nil, err }
    if err := cl.Start(ctx); err != nil {
        _ = cl.Close()
        return nil, err
    }
    return cl, nil
}
