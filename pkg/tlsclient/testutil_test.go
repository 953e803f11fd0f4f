package tlsclient

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

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func testLogger() logr.Logger { return logr.Discard() }

// A throwaway CA plus one server leaf signed by it, with the CA written out as
// a PEM trust store file.
type testPKI struct {
	caPath     string
	serverCert tls.Certificate
}

func newTestPKI(t *testing.T, dnsNames []string, ips []net.IP, notBefore, notAfter time.Time) *testPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "tls-fetch test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "tls-fetch test server"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})
	require.NoError(t, os.WriteFile(caPath, caPEM, 0o600))

	return &testPKI{
		caPath: caPath,
		serverCert: tls.Certificate{
			Certificate: [][]byte{leafDER, caDER},
			PrivateKey:  leafKey,
		},
	}
}

func validPKI(t *testing.T, dnsNames ...string) *testPKI {
	return newTestPKI(t, dnsNames, nil, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
}

// startTLSServer accepts connections on loopback and runs handler on each.
// Handshake failures (which several tests provoke deliberately) just end the
// handler.
func startTLSServer(t *testing.T, cert tls.Certificate, handler func(conn *tls.Conn)) string {
	t.Helper()

	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				tconn := conn.(*tls.Conn)
				if err := tconn.Handshake(); err != nil {
					return
				}
				handler(tconn)
			}(conn)
		}
	}()

	return l.Addr().String()
}

// dialSession gets a session as far as Bound against the given server.
func dialSession(t *testing.T, ctx *Context, addr string) *Session {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	sess := ctx.NewSession(testLogger())
	require.NoError(t, sess.Bind(conn))
	t.Cleanup(sess.Free)

	return sess
}
