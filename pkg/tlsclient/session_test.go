package tlsclient

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func verifyingContext(t *testing.T, pki *testPKI) *Context {
	t.Helper()

	ctx, err := NewContext(testLogger(), Options{TrustStorePath: pki.caPath})
	require.NoError(t, err)
	return ctx
}

func TestHandshakeVerified(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))

	require.NoError(t, sess.Handshake())
	require.Equal(t, StateEstablished, sess.State())
	require.True(t, sess.Verification().OK())
	require.GreaterOrEqual(t, sess.AgreedVersion(), uint16(tls.VersionTLS12))
	require.NotEmpty(t, sess.PeerCerts())
}

func TestHandshakeHostnameMismatch(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("", "wrong.test"))

	err := sess.Handshake()
	require.Error(t, err)
	require.Equal(t, StateErrored, sess.State())

	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr))
	require.Equal(t, VerifyHostnameMismatch, hsErr.Result.Status)
	require.NotEmpty(t, hsErr.Result.Reason)
	require.False(t, sess.Verification().OK())
}

func TestHandshakeUnknownAuthority(t *testing.T) {
	pki := validPKI(t, "good.test")
	otherCA := validPKI(t, "unrelated.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {})

	// Trust store contains only the unrelated CA
	ctx := verifyingContext(t, otherCA)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))

	err := sess.Handshake()
	require.Error(t, err)

	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr))
	require.Equal(t, VerifyUnknownAuthority, hsErr.Result.Status)
	require.NotEmpty(t, hsErr.Result.Reason)
}

func TestHandshakeExpiredCert(t *testing.T) {
	pki := newTestPKI(t, []string{"good.test"}, nil,
		time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))

	err := sess.Handshake()
	require.Error(t, err)

	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr))
	require.Equal(t, VerifyExpired, hsErr.Result.Status)
}

func TestHandshakeUnenforcedVerification(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})

	ctx, err := NewContext(testLogger(), Options{SkipVerify: true, TrustStorePath: pki.caPath})
	require.NoError(t, err)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("", "wrong.test"))

	// Handshake succeeds, but the result is still there to query
	require.NoError(t, sess.Handshake())
	require.Equal(t, StateEstablished, sess.State())
	require.Equal(t, VerifyHostnameMismatch, sess.Verification().Status)
}

func TestHandshakeMinVersionUnmet(t *testing.T) {
	pki := validPKI(t, "good.test")

	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{pki.serverCert},
		MaxVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.(*tls.Conn).Handshake()
			_ = conn.Close()
		}
	}()

	ctx, err := NewContext(testLogger(), Options{MinVersion: tls.VersionTLS13, TrustStorePath: pki.caPath})
	require.NoError(t, err)
	sess := dialSession(t, ctx, l.Addr().String())
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))

	err = sess.Handshake()
	require.Error(t, err)

	// Failed below the certificate layer; no verification result
	var hsErr *HandshakeError
	require.True(t, errors.As(err, &hsErr))
	require.Equal(t, VerifyNoResult, hsErr.Result.Status)
}

func TestBindExactlyOnce(t *testing.T) {
	ctx, err := NewContext(testLogger(), Options{SkipVerify: true})
	require.NoError(t, err)

	client, server := net.Pipe()
	defer server.Close()

	sess := ctx.NewSession(testLogger())
	defer sess.Free()
	require.NoError(t, sess.Bind(client))

	var stateErr *StateError
	require.True(t, errors.As(sess.Bind(client), &stateErr))
}

func TestIdentityPreconditions(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})

	ctx := verifyingContext(t, pki)

	// Before binding
	unbound := ctx.NewSession(testLogger())
	var idErr *IdentityError
	require.True(t, errors.As(unbound.SetIdentity("good.test", "good.test"), &idErr))

	sess := dialSession(t, ctx, addr)

	// Non-conformant SNI (literal IP)
	require.True(t, errors.As(sess.SetIdentity("192.0.2.1", "good.test"), &idErr))

	// No verification name while verification is enforced
	require.True(t, errors.As(sess.SetIdentity("good.test", ""), &idErr))

	// Idempotent before the handshake; the last call wins
	require.NoError(t, sess.SetIdentity("ignored.test", "ignored.test"))
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))
	require.NoError(t, sess.Handshake())

	// Fixed once the handshake has started
	require.True(t, errors.As(sess.SetIdentity("too-late.test", "too-late.test"), &idErr))
	require.True(t, sess.Verification().OK())
}

func TestHandshakeRequiresIdentity(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)

	var hsErr *HandshakeError
	require.True(t, errors.As(sess.Handshake(), &hsErr))
}

func TestEchoRoundTrip(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		// Echo until the client's close_notify, then close our side
		_, _ = io.Copy(conn, conn)
	})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))
	require.NoError(t, sess.Handshake())

	chunks := [][]byte{[]byte("first "), []byte("second "), []byte("third")}
	var want []byte
	for _, chunk := range chunks {
		n, err := sess.Write(chunk)
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
		want = append(want, chunk...)
	}

	var got []byte
	buf := make([]byte, 8) // deliberately small; reassembly is the point
	for len(got) < len(want) {
		n, err := sess.Read(buf)
		got = append(got, buf[:n]...)
		require.NoError(t, err)
	}
	require.True(t, bytes.Equal(want, got))

	// We initiated the close, so the first shutdown can only be pending...
	outcome, err := sess.Shutdown()
	require.NoError(t, err)
	require.Equal(t, ShutdownPending, outcome)
	require.Equal(t, StateShuttingDown, sess.State())

	// ...and the second blocks for the peer's close_notify
	outcome, err = sess.Shutdown()
	require.NoError(t, err)
	require.Equal(t, ShutdownDone, outcome)
	require.Equal(t, StateClosed, sess.State())
}

func TestOrderlyCloseThenImmediateShutdown(t *testing.T) {
	payload := []byte("HTTP/1.0 200 OK\r\n\r\nhello")

	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		_, _ = conn.Write(payload)
		// Close sends close_notify: the orderly "no more data" signal
	})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))
	require.NoError(t, sess.Handshake())

	var got []byte
	buf := make([]byte, 8)
	for {
		n, err := sess.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, payload, got)
	require.Equal(t, StateClosed, sess.State())

	// The peer's close was observed, so shutdown must complete immediately -
	// ShutdownPending here would be a bug
	outcome, err := sess.Shutdown()
	require.NoError(t, err)
	require.Equal(t, ShutdownDone, outcome)
	require.Equal(t, StateClosed, sess.State())

	// Reads after the orderly close keep saying EOF
	n, err := sess.Read(buf)
	require.Zero(t, n)
	require.Equal(t, io.EOF, err)

	// Writes after it are a misuse
	var wErr *WriteError
	_, err = sess.Write([]byte("x"))
	require.True(t, errors.As(err, &wErr))
}

func TestTruncatedConnectionIsAReadError(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		// Tear down the raw transport, no close_notify: truncation, not an
		// orderly close
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		_ = conn.NetConn().Close()
	})

	ctx := verifyingContext(t, pki)
	sess := dialSession(t, ctx, addr)
	require.NoError(t, sess.SetIdentity("good.test", "good.test"))
	require.NoError(t, sess.Handshake())

	_, err := sess.Write([]byte("x"))
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 8)
	for {
		n, readErr := sess.Read(buf)
		got = append(got, buf[:n]...)
		if readErr != nil {
			err = readErr
			break
		}
	}
	require.Empty(t, got)

	// Must surface as the abnormal kind, never as the orderly io.EOF
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	require.Equal(t, StateErrored, sess.State())

	// A dead session can't shut down gracefully
	_, err = sess.Shutdown()
	var sdErr *ShutdownError
	require.True(t, errors.As(err, &sdErr))
}

func TestFreeFromAnyState(t *testing.T) {
	ctx, err := NewContext(testLogger(), Options{SkipVerify: true})
	require.NoError(t, err)

	// Never bound
	sess := ctx.NewSession(testLogger())
	sess.Free()
	require.Equal(t, StateClosed, sess.State())
	sess.Free() // idempotent

	// Bound, never handshaken
	client, server := net.Pipe()
	defer server.Close()
	sess = ctx.NewSession(testLogger())
	require.NoError(t, sess.Bind(client))
	sess.Free()
	require.Equal(t, StateClosed, sess.State())

	// The session owns the conn; Free must have closed it
	_, err = client.Write([]byte("x"))
	require.Error(t, err)
}

func TestContextReuse(t *testing.T) {
	pki := validPKI(t, "good.test")
	addr := startTLSServer(t, pki.serverCert, func(conn *tls.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})

	ctx := verifyingContext(t, pki)

	// One context, several sequential sessions
	for i := 0; i < 3; i++ {
		sess := dialSession(t, ctx, addr)
		require.NoError(t, sess.SetIdentity("good.test", "good.test"))
		require.NoError(t, sess.Handshake())
		sess.Free()
	}
}
