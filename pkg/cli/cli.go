package cli

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-l2coord/pkg/bootstrap"
    tracing "github.com/amirimatin/go-l2coord/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-l2coord/pkg/security/tlsconfig"
    "github.com/amirimatin/go-l2coord/pkg/voter"
)

// ErrRestartRequired is returned by run when the node must be restarted by
// its supervisor.
var ErrRestartRequired = errors.New("node stopped and must be restarted")

// AddAll attaches the node subcommands (run/status/allow/voter/witness) to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewAllowCmd())
    root.AddCommand(NewVoterCmd())
    root.AddCommand(NewWitnessCmd())
}

// NewRunCmd returns the "run" command used to start a coordinator node.
func NewRunCmd() *cobra.Command {
    var (
        cfg         bootstrap.Config
        tls         tlsFlags
        traceEnable bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a coordinator node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            o := tls.options()
            cfg.TLSEnable, cfg.TLSCA, cfg.TLSCert, cfg.TLSKey = o.Enable, o.CAFile, o.CertFile, o.KeyFile
            cfg.TLSServerName, cfg.TLSSkipVerify = o.ServerName, o.InsecureSkipVerify
            cfg.Logger = log.Default()
            cl, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer cl.Close()

            fmt.Printf("node %s running. Press Ctrl+C to exit.\n", cfg.NodeID)
            select {
            case <-ctx.Done():
                return nil
            case err := <-cl.Fatal():
                return fmt.Errorf("%w: %v", ErrRestartRequired, err)
            }
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.MemBind, "mem-bind", ":7946", "group membership bind addr (host:port)")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "group membership advertise addr (host:port, optional)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "management and voter address (tcp), separate from the membership port")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.StringVar(&cfg.TopologyKind, "topology", "static", "server roster source: static|file")
    f.StringVar(&cfg.ServersCSV, "servers", "", "comma-separated servers id@host:port, including this node")
    f.StringVar(&cfg.TopologyFile, "topology-file", "", "path to a file listing servers (one per line or CSV)")
    f.StringVar(&cfg.TopologyEnv, "topology-env", "", "ENV var name containing CSV servers; overrides the file when set")
    f.StringVar(&cfg.SeedDNS, "seed-dns", "", "comma-separated DNS names or SRV records (e.g., _l2coord._udp.example.com) for join seeds")
    f.IntVar(&cfg.SeedDNSPort, "seed-dns-port", 7946, "port used for A/AAAA seed lookups")
    f.StringVar(&cfg.SeedDNSServer, "seed-dns-server", "", "DNS server host:port queried for SRV seeds (system resolver when empty)")
    f.StringVar(&cfg.Failover, "failover", "", "failover behavior: availability|consistency (required with more than one server)")
    f.IntVar(&cfg.VoteCount, "vote-count", 0, "external votes that substitute for a missing majority (consistency only)")
    f.BoolVar(&cfg.SkipStartupGate, "skip-startup-gate", false, "allow promotion out of START before every server has joined")
    f.DurationVar(&cfg.ElectionTime, "election-time", 5*time.Second, "election round duration")
    f.DurationVar(&cfg.RetryInterval, "retry-interval", 0, "delay before retrying a denied promotion (defaults to election-time)")
    f.IntVar(&cfg.DiagnosticAfter, "diagnostic-after", 0, "enter DIAGNOSTIC after this many denied promotions (0 disables)")
    f.DurationVar(&cfg.VoteTimeout, "vote-timeout", 30*time.Second, "how long to collect external votes")
    f.DurationVar(&cfg.VoterHeartbeatTimeout, "voter-timeout", 10*time.Second, "expire voters that stop heartbeating")
    f.StringVar(&cfg.DataDir, "data", "", "server state dir (empty keeps state in memory)")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    tls.register(cmd, "node")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var c clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            cli, closer, err := c.client()
            if err != nil { return err }
            defer closer()
            ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
            defer cancel()
            data, err := cli.GetStatus(ctx, c.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { os.Stdout.Write([]byte("\n")) }
            return nil
        },
    }
    c.register(cmd)
    return cmd
}

// NewAllowCmd returns the "allow" command, the operator override for a
// blocked transition.
func NewAllowCmd() *cobra.Command {
    var c clientFlags
    cmd := &cobra.Command{
        Use:   "allow",
        Short: "Allow the last blocked transition on a node",
        RunE: func(cmd *cobra.Command, args []string) error {
            cli, closer, err := c.client()
            if err != nil { return err }
            defer closer()
            ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
            defer cancel()
            if err := cli.Allow(ctx, c.addr); err != nil { return fmt.Errorf("allow error: %w", err) }
            fmt.Println("allowed")
            return nil
        },
    }
    c.register(cmd)
    return cmd
}

// clientFlags are shared by every command that talks to a node.
type clientFlags struct {
    addr, proto string
    timeout     time.Duration
    tls         tlsFlags
}

func (c *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&c.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().StringVar(&c.proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&c.timeout, "timeout", 3*time.Second, "request timeout")
    c.tls.register(cmd, "client")
}

func (c *clientFlags) client() (*voter.Client, func(), error) {
    cli, closer, err := bootstrap.NewVoterClient(c.proto, c.tls.options(), c.timeout)
    if err != nil { return nil, nil, fmt.Errorf("client config: %w", err) }
    return cli, func() {
        if closer != nil { _ = closer.Close() }
    }, nil
}

type tlsFlags struct {
    enable, skip              bool
    ca, cert, key, serverName string
}

func (t *tlsFlags) register(cmd *cobra.Command, role string) {
    cmd.Flags().BoolVar(&t.enable, "tls-enable", false, "enable mTLS for the management transport")
    cmd.Flags().StringVar(&t.ca, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&t.cert, "tls-cert", "", "path to "+role+" certificate (PEM)")
    cmd.Flags().StringVar(&t.key, "tls-key", "", "path to "+role+" private key (PEM)")
    cmd.Flags().BoolVar(&t.skip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&t.serverName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (t *tlsFlags) options() tlsx.Options {
    return tlsx.Options{Enable: t.enable, CAFile: t.ca, CertFile: t.cert, KeyFile: t.key, InsecureSkipVerify: t.skip, ServerName: t.serverName}
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
