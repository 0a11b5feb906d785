//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirimatin/go-l2coord/pkg/bootstrap"
	tlsx "github.com/amirimatin/go-l2coord/pkg/security/tlsconfig"
	"github.com/amirimatin/go-l2coord/pkg/voter"
	"github.com/amirimatin/go-l2coord/pkg/voter/httpjson"
)

func TestTLS_ThreeNodes_StatusAndAllow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dir := t.TempDir()
	caCrt, _, srvCrt, srvKey, cliCrt, cliKey := mustMakeTestCerts(t, dir)

	mustStartThreeNodes(t, ctx, func(c *bootstrap.Config) {
		c.TLSEnable, c.TLSCA, c.TLSCert, c.TLSKey = true, caCrt, srvCrt, srvKey
	})

	topts := tlsx.Options{Enable: true, CAFile: caCrt, CertFile: cliCrt, KeyFile: cliKey}
	cliTLS, err := topts.Client()
	if err != nil {
		t.Fatalf("tls client: %v", err)
	}
	cli := voter.NewClient(httpjson.NewClient(3 * time.Second).UseTLS(cliTLS))

	waitUntil(t, 20*time.Second, func() error {
		s, err := fetchStatus(ctx, cli, mgmt["n1"])
		if err != nil {
			return err
		}
		if !s.Healthy || s.Active == "" {
			return errNotYet
		}
		return nil
	})

	// nothing is blocked on a healthy node
	if err := cli.Allow(ctx, mgmt["n1"]); err == nil {
		t.Fatalf("allow on a healthy node should fail")
	}

	// a client without a certificate is rejected
	plain, err := tlsx.Options{Enable: true, CAFile: caCrt}.Client()
	if err != nil {
		t.Fatalf("tls client: %v", err)
	}
	anon := voter.NewClient(httpjson.NewClient(time.Second).UseTLS(plain))
	if _, err := anon.GetStatus(ctx, mgmt["n1"]); err == nil {
		t.Fatalf("status without a client certificate should fail")
	}
}

func mustMakeTestCerts(t *testing.T, dir string) (caCrt, caKey, srvCrt, srvKey, cliCrt, cliKey string) {
	t.Helper()
	caPriv, _ := rsa.GenerateKey(rand.Reader, 2048)
	caTpl := &x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "l2coord-ca"}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(48 * time.Hour), KeyUsage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign, IsCA: true, BasicConstraintsValid: true}
	caDER, _ := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
	caCrt = filepath.Join(dir, "ca.crt")
	caKey = filepath.Join(dir, "ca.key")
	writePEM(t, caCrt, "CERTIFICATE", caDER)
	writePEM(t, caKey, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(caPriv))

	makeLeaf := func(cn, crtName, keyName string, isClient bool) (string, string) {
		priv, _ := rsa.GenerateKey(rand.Reader, 2048)
		tpl := &x509.Certificate{SerialNumber: big.NewInt(time.Now().UnixNano()), Subject: pkix.Name{CommonName: cn}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment}
		if isClient {
			tpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
		} else {
			tpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		}
		tpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		der, _ := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
		crtPath := filepath.Join(dir, crtName)
		keyPath := filepath.Join(dir, keyName)
		writePEM(t, crtPath, "CERTIFICATE", der)
		writePEM(t, keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
		return crtPath, keyPath
	}

	srvCrt, srvKey = makeLeaf("l2coord-server", "server.crt", "server.key", false)
	cliCrt, cliKey = makeLeaf("l2coord-client", "client.crt", "client.key", true)
	return
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
		t.Fatalf("pem encode %s: %v", path, err)
	}
}
