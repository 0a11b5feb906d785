package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed CA-capable cert for 127.0.0.1 and
// returns the cert and key paths.
func writeSelfSigned(t *testing.T, dir, name string) (string, string) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        Subject:               pkix.Name{CommonName: name},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    require.NoError(t, err)
    kb, err := x509.MarshalECPrivateKey(key)
    require.NoError(t, err)
    certPath := filepath.Join(dir, name+".crt")
    keyPath := filepath.Join(dir, name+".key")
    require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
    require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kb}), 0o600))
    return certPath, keyPath
}

func TestDisabledReturnsNil(t *testing.T) {
    var o Options
    for _, fn := range []func() (*tls.Config, error){o.Server, o.Client, o.ServerHotReload, o.ClientHotReload} {
        cfg, err := fn()
        require.NoError(t, err)
        assert.Nil(t, cfg)
    }
}

func TestServerRequiresKeyPair(t *testing.T) {
    o := Options{Enable: true}
    _, err := o.Server()
    assert.ErrorIs(t, err, ErrCertRequired)
    _, err = o.ServerHotReload()
    assert.ErrorIs(t, err, ErrCertRequired)
}

func TestBadCAFile(t *testing.T) {
    dir := t.TempDir()
    ca := filepath.Join(dir, "ca.pem")
    require.NoError(t, os.WriteFile(ca, []byte("not a cert"), 0o600))
    _, err := Options{Enable: true, CAFile: ca}.Client()
    assert.ErrorIs(t, err, ErrNoCACerts)
}

func TestMutualTLSHandshake(t *testing.T) {
    dir := t.TempDir()
    cert, key := writeSelfSigned(t, dir, "node")
    o := Options{Enable: true, CAFile: cert, CertFile: cert, KeyFile: key}

    srvCfg, err := o.ServerHotReload()
    require.NoError(t, err)
    assert.Equal(t, tls.RequireAndVerifyClientCert, srvCfg.ClientAuth)
    cliCfg, err := o.ClientHotReload()
    require.NoError(t, err)

    ln, err := tls.Listen("tcp", "127.0.0.1:0", srvCfg)
    require.NoError(t, err)
    defer ln.Close()
    accepted := make(chan error, 1)
    go func() {
        c, err := ln.Accept()
        if err != nil { accepted <- err; return }
        defer c.Close()
        accepted <- c.(*tls.Conn).Handshake()
    }()

    conn, err := tls.Dial("tcp", ln.Addr().String(), cliCfg)
    require.NoError(t, err)
    require.NoError(t, conn.Handshake())
    _ = conn.Close()
    require.NoError(t, <-accepted)
}

func TestReloaderKeepsLastGoodPair(t *testing.T) {
    dir := t.TempDir()
    cert, key := writeSelfSigned(t, dir, "node")
    now := time.Now()
    r := &reloader{certFile: cert, keyFile: key, now: func() time.Time { return now }}
    first, err := r.get()
    require.NoError(t, err)

    require.NoError(t, os.WriteFile(cert, []byte("half written"), 0o600))
    now = now.Add(2 * reloadTTL)
    again, err := r.get()
    require.NoError(t, err)
    assert.Same(t, first, again)
}
