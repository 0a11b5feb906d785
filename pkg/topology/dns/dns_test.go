package dns

import (
    "net"
    "strings"
    "testing"
    "time"

    mdns "github.com/miekg/dns"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestParseSRVName(t *testing.T) {
    s, p, n := parseSRVName("_l2coord._udp.example.com")
    assert.Equal(t, []string{"l2coord", "udp", "example.com"}, []string{s, p, n})
    s, p, n = parseSRVName("bad.srv")
    assert.Empty(t, s+p+n)
}

func TestPassthroughHostPort(t *testing.T) {
    d := New(Options{Names: Parse("1.2.3.4:7946, ,1.2.3.4:7946"), Refresh: 5 * time.Millisecond})
    assert.Equal(t, []string{"1.2.3.4:7946"}, d.Seeds())
}

func TestLookupHostLocalhost(t *testing.T) {
    d := New(Options{Names: []string{"localhost"}, Port: 12345, Refresh: 5 * time.Millisecond})
    got := d.Seeds()
    require.NotEmpty(t, got)
    ok := false
    for _, s := range got {
        if strings.HasSuffix(s, ":12345") { ok = true }
    }
    assert.True(t, ok, "expected port suffix in %v", got)
}

// serveSRV answers SRV queries for name with two targets and glue for one.
func serveSRV(t *testing.T, name string) string {
    t.Helper()
    pc, err := net.ListenPacket("udp", "127.0.0.1:0")
    require.NoError(t, err)
    started := make(chan struct{})
    srv := &mdns.Server{PacketConn: pc, NotifyStartedFunc: func() { close(started) }}
    srv.Handler = mdns.HandlerFunc(func(w mdns.ResponseWriter, r *mdns.Msg) {
        m := new(mdns.Msg)
        m.SetReply(r)
        if r.Question[0].Name == mdns.Fqdn(name) {
            hdr := mdns.RR_Header{Name: mdns.Fqdn(name), Rrtype: mdns.TypeSRV, Class: mdns.ClassINET, Ttl: 30}
            m.Answer = append(m.Answer,
                &mdns.SRV{Hdr: hdr, Port: 7946, Target: "n1.example.com."},
                &mdns.SRV{Hdr: hdr, Port: 8946, Target: "n2.example.com."},
            )
            m.Extra = append(m.Extra, &mdns.A{
                Hdr: mdns.RR_Header{Name: "n1.example.com.", Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 30},
                A:   net.ParseIP("10.0.0.1"),
            })
        }
        _ = w.WriteMsg(m)
    })
    go func() { _ = srv.ActivateAndServe() }()
    <-started
    t.Cleanup(func() { _ = srv.Shutdown() })
    return pc.LocalAddr().String()
}

func TestSRVFromServer(t *testing.T) {
    addr := serveSRV(t, "_l2coord._udp.example.com")
    d := New(Options{Names: []string{"_l2coord._udp.example.com"}, Server: addr})
    assert.Equal(t, []string{"10.0.0.1:7946", "n2.example.com:8946"}, d.Seeds())
}
