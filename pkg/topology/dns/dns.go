// Package dns resolves group join seeds from DNS when the server roster
// lists ids without addresses.
package dns

import (
    "context"
    "log"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    mdns "github.com/miekg/dns"

    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/topology"
)

// Options configures DNS-based seeding.
type Options struct {
    // Names are SRV records or hostnames to resolve.
    // Examples: "_l2coord._udp.example.com" (SRV) or "node1.example.com" (A/AAAA).
    Names []string

    // Port used when resolving A/AAAA records (no port info in DNS answer).
    Port int

    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration

    // Server, when set (host:port), is queried directly for SRV records
    // instead of the system resolver, e.g. a service registry's DNS port.
    Server string

    // Resolver optionally overrides the resolver used for A/AAAA lookups
    // and for SRV lookups when Server is empty.
    Resolver *net.Resolver

    Logger *log.Logger
}

type seeder struct {
    opts   Options
    logger *log.Logger
    mu     sync.Mutex
    last   time.Time
    cache  []string
}

var _ topology.Seeder = (*seeder)(nil)

// New returns a DNS-backed seeder that resolves SRV and A/AAAA names
// and caches results for the Refresh duration.
func New(opts Options) topology.Seeder {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Port == 0 { opts.Port = 7946 }
    return &seeder{opts: opts, logger: logutil.OrDefault(opts.Logger)}
}

// Parse splits a comma-separated name list.
func Parse(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}

func (d *seeder) Seeds() []string {
    d.mu.Lock()
    defer d.mu.Unlock()
    if time.Since(d.last) < d.opts.Refresh && len(d.cache) > 0 {
        return append([]string(nil), d.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    d.cache = d.resolveAll(ctx)
    d.last = time.Now()
    return append([]string(nil), d.cache...)
}

func (d *seeder) resolveAll(ctx context.Context) []string {
    seen := make(map[string]struct{})
    var out []string
    add := func(hps ...string) {
        for _, hp := range hps {
            if _, ok := seen[hp]; ok { continue }
            seen[hp] = struct{}{}
            out = append(out, hp)
        }
    }
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" { continue }
        // already host:port
        if strings.Contains(name, ":") && !strings.HasPrefix(name, "_") {
            add(name)
            continue
        }
        if isSRVName(name) {
            if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
                add(recs...)
                continue
            }
        }
        add(d.lookupHost(ctx, name, d.opts.Port)...)
    }
    sort.Strings(out)
    return out
}

func (d *seeder) lookupSRV(ctx context.Context, fqdn string) []string {
    if d.opts.Server != "" { return d.querySRV(ctx, fqdn) }
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" { return nil }
    res := d.opts.Resolver
    if res == nil { res = net.DefaultResolver }
    _, addrs, err := res.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        logutil.Debugf(d.logger, "dns: SRV %s: %v", fqdn, err)
        return nil
    }
    var out []string
    for _, a := range addrs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
    }
    return out
}

// querySRV asks opts.Server directly. Targets are resolved from the
// additional section when present.
func (d *seeder) querySRV(ctx context.Context, fqdn string) []string {
    m := new(mdns.Msg)
    m.SetQuestion(mdns.Fqdn(fqdn), mdns.TypeSRV)
    c := new(mdns.Client)
    in, _, err := c.ExchangeContext(ctx, m, d.opts.Server)
    if err != nil {
        logutil.Debugf(d.logger, "dns: SRV %s via %s: %v", fqdn, d.opts.Server, err)
        return nil
    }
    glue := make(map[string]string)
    for _, rr := range in.Extra {
        switch a := rr.(type) {
        case *mdns.A:
            glue[a.Hdr.Name] = a.A.String()
        case *mdns.AAAA:
            if _, ok := glue[a.Hdr.Name]; !ok { glue[a.Hdr.Name] = a.AAAA.String() }
        }
    }
    var out []string
    for _, rr := range in.Answer {
        srv, ok := rr.(*mdns.SRV)
        if !ok { continue }
        host := strings.TrimSuffix(srv.Target, ".")
        if ip, ok := glue[srv.Target]; ok { host = ip }
        out = append(out, net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
    }
    return out
}

func (d *seeder) lookupHost(ctx context.Context, host string, port int) []string {
    res := d.opts.Resolver
    if res == nil { res = net.DefaultResolver }
    ips, err := res.LookupHost(ctx, host)
    if err != nil {
        logutil.Debugf(d.logger, "dns: lookup %s: %v", host, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(port))) }
    return out
}

func isSRVName(name string) bool { return strings.HasPrefix(name, "_") && strings.Contains(name, "._") }

// parseSRVName splits "_service._proto.name".
func parseSRVName(fqdn string) (service, proto, name string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
