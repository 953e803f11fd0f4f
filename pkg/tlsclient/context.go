package tlsclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/go-logr/logr"
)

// Options configures a Context. The zero value gets you the strongly
// recommended setup: verify the peer against the platform trust store,
// minimum TLS 1.2.
type Options struct {
	// MinVersion rejects handshakes that would negotiate anything older.
	// Zero means tls.VersionTLS12.
	MinVersion uint16

	// SkipVerify accepts any certificate the peer presents. The verification
	// still runs and its result is still queryable; it just doesn't abort the
	// handshake. Strongly discouraged outside of debugging.
	SkipVerify bool

	// TrustStorePath points at a PEM bundle of root certs. Empty means the
	// platform default store.
	TrustStorePath string
}

// Context holds the per-client TLS configuration and the session-resumption
// cache. Create one and reuse it for every Session; the cache is the whole
// point of its existence outliving a connection.
type Context struct {
	log logr.Logger

	verifyPeer bool
	minVersion uint16
	roots      *x509.CertPool
	cache      tls.ClientSessionCache
}

// ParseVersion maps the CLI spelling of a TLS version onto the library's
// constant.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, &ConfigError{Err: fmt.Errorf("unknown TLS version %q", v)}
	}
}

func NewContext(log logr.Logger, opts Options) (*Context, error) {
	c := &Context{
		log:        log,
		verifyPeer: !opts.SkipVerify,
		minVersion: opts.MinVersion,
		cache:      tls.NewLRUClientSessionCache(0),
	}

	switch c.minVersion {
	case 0:
		c.minVersion = tls.VersionTLS12
	case tls.VersionTLS10, tls.VersionTLS11, tls.VersionTLS12, tls.VersionTLS13:
	default:
		return nil, &ConfigError{Err: fmt.Errorf("unsupported minimum version 0x%04x", opts.MinVersion)}
	}

	if opts.TrustStorePath != "" {
		bytes, err := os.ReadFile(opts.TrustStorePath)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		roots := x509.NewCertPool()
		if ok := roots.AppendCertsFromPEM(bytes); !ok {
			return nil, &ConfigError{Err: fmt.Errorf("no PEM certificates in %s", opts.TrustStorePath)}
		}
		c.roots = roots
		log.V(1).Info("trust store loaded", "path", opts.TrustStorePath)
	} else {
		roots, err := x509.SystemCertPool()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		c.roots = roots
		log.V(1).Info("trust store is the system default")
	}

	return c, nil
}

// NewSession makes a fresh, unbound Session sharing this Context's policy and
// resumption cache.
func (c *Context) NewSession(log logr.Logger) *Session {
	return &Session{
		log:   log,
		ctx:   c,
		state: StateCreated,
	}
}

// Close drops the resumption cache. Sessions made from this Context keep
// working; call it when the client is done for good, after freeing the last
// Session.
func (c *Context) Close() {
	c.cache = nil
}
