// Package tlsconfig builds mutual-TLS configs for the management endpoint
// and the voter RPC clients.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

var (
    ErrCertRequired = errors.New("tlsconfig: cert and key required when TLS is enabled")
    ErrNoCACerts    = errors.New("tlsconfig: no certificates found in CA file")
)

// reloadTTL bounds how long a loaded key pair is reused.
const reloadTTL = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
}

// Validate checks the inputs a server config needs.
func (o Options) Validate() error {
    if !o.Enable { return nil }
    if o.CertFile == "" || o.KeyFile == "" { return ErrCertRequired }
    return nil
}

// Server returns a tls.Config for servers if enabled, otherwise nil. A CA
// file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if err := o.Validate(); err != nil { return nil, err }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, fmt.Errorf("tlsconfig: load key pair: %w", err) }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
    if err := o.clientCAs(cfg); err != nil { return nil, err }
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.clientBase()
    if err != nil { return nil, err }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, fmt.Errorf("tlsconfig: load key pair: %w", err) }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// ServerHotReload returns a server tls.Config that re-reads the key pair on
// handshake once the cached copy is older than reloadTTL, so certificates
// can be rotated without a restart. The CA pool is loaded once.
func (o Options) ServerHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if err := o.Validate(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if err := o.clientCAs(cfg); err != nil { return nil, err }
    r := &reloader{certFile: o.CertFile, keyFile: o.KeyFile}
    if _, err := r.get(); err != nil { return nil, err }
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return r.get() }
    return cfg, nil
}

// ClientHotReload is the client counterpart of ServerHotReload. Without a
// key pair the client presents no certificate.
func (o Options) ClientHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg, err := o.clientBase()
    if err != nil { return nil, err }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    r := &reloader{certFile: o.CertFile, keyFile: o.KeyFile}
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return r.get() }
    return cfg, nil
}

func (o Options) clientBase() (*tls.Config, error) {
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    return cfg, nil
}

func (o Options) clientCAs(cfg *tls.Config) error {
    if o.CAFile == "" { return nil }
    pool, err := loadPool(o.CAFile)
    if err != nil { return err }
    cfg.ClientCAs = pool
    cfg.ClientAuth = tls.RequireAndVerifyClientCert
    return nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, fmt.Errorf("tlsconfig: read CA: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, ErrNoCACerts }
    return pool, nil
}

type reloader struct {
    certFile, keyFile string

    mu       sync.RWMutex
    cached   *tls.Certificate
    lastLoad time.Time
    now      func() time.Time
}

func (r *reloader) clock() time.Time {
    if r.now != nil { return r.now() }
    return time.Now()
}

func (r *reloader) get() (*tls.Certificate, error) {
    r.mu.RLock()
    if r.cached != nil && r.clock().Sub(r.lastLoad) < reloadTTL {
        c := r.cached
        r.mu.RUnlock()
        return c, nil
    }
    r.mu.RUnlock()
    cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
    if err != nil {
        r.mu.RLock()
        c := r.cached
        r.mu.RUnlock()
        // keep serving the last good pair while a rotation is half written
        if c != nil { return c, nil }
        return nil, fmt.Errorf("tlsconfig: load key pair: %w", err)
    }
    r.mu.Lock()
    r.cached = &cert
    r.lastLoad = r.clock()
    r.mu.Unlock()
    return &cert, nil
}
