package tlsclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"

	"github.com/go-logr/logr"

	"github.com/mt-inside/tls-fetch/pkg/utils"
)

type State int

const (
	StateCreated State = iota
	StateBound
	StateHandshaking
	StateEstablished
	StateShuttingDown
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateBound:
		return "Bound"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateClosed:
		return "Closed"
	default:
		return "Error"
	}
}

// ShutdownOutcome distinguishes "both close signals seen" from "ours sent,
// peer's still outstanding". It's deliberately not a bool; see Shutdown.
type ShutdownOutcome int

const (
	ShutdownDone ShutdownOutcome = iota
	ShutdownPending
)

// Session is one TLS connection: handshake state, record-layer state, and the
// identity to verify the peer against. It exclusively owns its Connection from
// Bind onwards; Free releases both. Not safe for concurrent use - one logical
// thread of control per connection.
type Session struct {
	log logr.Logger
	ctx *Context

	conn  net.Conn
	tconn *tls.Conn
	state State

	serverName  string // sent in the ClientHello (SNI)
	verifyName  string // must appear in the peer's cert
	identitySet bool

	peerClosed bool // peer's close_notify observed
	sentClose  bool // our close_notify sent
	freed      bool

	result       VerificationResult
	agreedTLS    tls.ConnectionState
	haveConnInfo bool
}

func (s *Session) State() State { return s.state }

// Bind transfers ownership of conn into the session. One binding, ever; the
// caller must not touch conn again (Free closes it).
func (s *Session) Bind(conn net.Conn) error {
	if s.state != StateCreated {
		return &StateError{Op: "bind", State: s.state}
	}

	s.conn = conn
	s.state = StateBound
	return nil
}

// SetIdentity configures both facets of the target's name: the SNI ServerName
// advertised in the ClientHello (so a multi-tenant server picks the right
// cert), and the name the presented cert must verify against. sni may be empty
// (the field is optional, and RFC 6066 forbids IPs in it); verifyName may not,
// unless the context skips verification. Idempotent until the handshake
// starts; after that it's a caller error.
func (s *Session) SetIdentity(sni, verifyName string) error {
	if s.state != StateBound {
		return &IdentityError{Err: &StateError{Op: "setIdentity", State: s.state}}
	}
	if sni != "" && !utils.ServerNameConformant(sni) {
		return &IdentityError{Err: fmt.Errorf("SNI ServerName %q isn't RFC 6066 conformant", sni)}
	}
	if verifyName == "" && s.ctx.verifyPeer {
		return &IdentityError{Err: fmt.Errorf("no name to verify the peer's certificate against")}
	}

	s.serverName = sni
	s.verifyName = verifyName
	s.identitySet = true
	return nil
}

// Handshake runs the cryptographic handshake over the bound connection,
// blocking until it's done. On success the peer has been verified against the
// configured hostname and trust store. On failure, check Verification(): a
// non-OK result means the cause was certificate validation; NoResult means a
// lower-layer protocol or transport error.
func (s *Session) Handshake() error {
	if s.state != StateBound {
		return &HandshakeError{Err: &StateError{Op: "handshake", State: s.state}}
	}
	if !s.identitySet {
		return &HandshakeError{Err: fmt.Errorf("identity not set; call SetIdentity first")}
	}

	// We turn the library's own verification off and re-run the same checks in
	// VerifyConnection. A built-in failure would surface only as a generic
	// handshake error; this way we keep the x509 error to classify, and the
	// result is queryable even when the context is set not to enforce it.
	cfg := &tls.Config{
		ServerName:         s.serverName,
		MinVersion:         s.ctx.minVersion,
		ClientSessionCache: s.ctx.cache,
		InsecureSkipVerify: true,
		VerifyConnection:   s.verifyConnection,
	}

	s.state = StateHandshaking
	s.tconn = tls.Client(s.conn, cfg)

	if err := s.tconn.Handshake(); err != nil {
		s.state = StateErrored
		return &HandshakeError{Err: err, Result: s.result}
	}

	s.log.V(1).Info("handshake complete",
		"version", s.agreedTLS.Version, "cipherSuite", tls.CipherSuiteName(s.agreedTLS.CipherSuite),
		"verification", s.result.String())
	s.state = StateEstablished
	return nil
}

func (s *Session) verifyConnection(cs tls.ConnectionState) error {
	s.agreedTLS = cs
	s.haveConnInfo = true

	if len(cs.PeerCertificates) == 0 {
		s.result = VerificationResult{Status: VerifyOther, Reason: "peer presented no certificates"}
		if s.ctx.verifyPeer {
			return fmt.Errorf("peer presented no certificates")
		}
		return nil
	}

	opts := x509.VerifyOptions{
		DNSName:       s.verifyName,
		Roots:         s.ctx.roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}

	if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
		s.result = classifyVerifyError(err)
		if s.ctx.verifyPeer {
			return err
		}
		s.log.V(1).Info("certificate verification failed but enforcement is off", "reason", s.result.String())
		return nil
	}

	s.result = VerificationResult{Status: VerifyOK, Reason: fmt.Sprintf("certificate chain valid for %q", s.verifyName)}
	return nil
}

// Write sends the whole buffer over the secured channel, blocking until it's
// accepted. The record layer may split it; the caller sees atomic
// success-or-fail. n == len(p) unless err != nil.
func (s *Session) Write(p []byte) (int, error) {
	if s.state != StateEstablished {
		return 0, &WriteError{Err: &StateError{Op: "write", State: s.state}}
	}

	n, err := s.tconn.Write(p)
	if err != nil {
		s.state = StateErrored
		return n, &WriteError{Err: err}
	}
	return n, nil
}

// Read blocks for up to len(p) bytes of plaintext. The peer's orderly close
// comes back as io.EOF (possibly alongside final bytes) and moves the session
// to Closed; any other failure is a ReadError and moves it to Error. The two
// must not be conflated - EOF here means "no more data will ever arrive, by
// agreement", not "something broke".
func (s *Session) Read(p []byte) (int, error) {
	if s.state == StateClosed && s.peerClosed {
		return 0, io.EOF
	}
	if s.state != StateEstablished {
		return 0, &ReadError{Err: &StateError{Op: "read", State: s.state}}
	}

	n, err := s.tconn.Read(p)
	if err == io.EOF {
		s.peerClosed = true
		s.state = StateClosed
		return n, io.EOF
	}
	if err != nil {
		s.state = StateErrored
		return n, &ReadError{Err: err}
	}
	return n, nil
}

// Shutdown sends our close_notify and reports which of the three documented
// outcomes happened:
//   - ShutdownDone, nil: the peer's close signal was already seen (a prior
//     Read returned the orderly close), so the session is fully Closed.
//   - ShutdownPending, nil: ours is sent, the peer's hasn't arrived. Calling
//     Shutdown again blocks until it does. A caller who already observed the
//     orderly close should never see this outcome and should treat it as an
//     error.
//   - transport failure: ShutdownError.
func (s *Session) Shutdown() (ShutdownOutcome, error) {
	switch {
	case s.state == StateClosed && s.peerClosed:
		if !s.sentClose {
			if err := s.tconn.CloseWrite(); err != nil {
				s.state = StateErrored
				return ShutdownDone, &ShutdownError{Err: err}
			}
			s.sentClose = true
		}
		return ShutdownDone, nil

	case s.state == StateEstablished:
		if err := s.tconn.CloseWrite(); err != nil {
			s.state = StateErrored
			return ShutdownDone, &ShutdownError{Err: err}
		}
		s.sentClose = true
		s.state = StateShuttingDown
		return ShutdownPending, nil

	case s.state == StateShuttingDown:
		// Cooperative path: block until the peer's close_notify. Data still in
		// flight is discarded - we've said we're done.
		buf := make([]byte, 512)
		for {
			n, err := s.tconn.Read(buf)
			if n > 0 {
				s.log.V(1).Info("discarding late data during shutdown", "bytes", n)
			}
			if err == io.EOF {
				s.peerClosed = true
				s.state = StateClosed
				return ShutdownDone, nil
			}
			if err != nil {
				s.state = StateErrored
				return ShutdownDone, &ShutdownError{Err: err}
			}
		}

	default:
		return ShutdownDone, &ShutdownError{Err: &StateError{Op: "shutdown", State: s.state}}
	}
}

// Free releases the connection and all session resources. Callable from any
// state, any number of times; the first call wins. Terminal.
func (s *Session) Free() {
	if s.freed {
		return
	}
	s.freed = true

	if s.tconn != nil {
		if err := s.tconn.Close(); err != nil {
			s.log.V(1).Info("close failed", "reason", err)
		}
	} else if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.V(1).Info("close failed", "reason", err)
		}
	}
	s.state = StateClosed
}

// Verification reports the outcome of certificate verification. Meaningful
// once Handshake has returned; NoResult before that, and after handshakes that
// failed below the certificate layer.
func (s *Session) Verification() VerificationResult { return s.result }

// Negotiated connection parameters, valid once the handshake has run far
// enough to agree them.

func (s *Session) AgreedVersion() uint16 { return s.agreedTLS.Version }

func (s *Session) AgreedCipherSuite() uint16 { return s.agreedTLS.CipherSuite }

func (s *Session) AgreedALPN() string { return s.agreedTLS.NegotiatedProtocol }

func (s *Session) PeerCerts() []*x509.Certificate {
	if !s.haveConnInfo {
		return nil
	}
	return s.agreedTLS.PeerCertificates
}
