package fetch

import (
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/mt-inside/http-log/pkg/output"

	"github.com/mt-inside/tls-fetch/pkg/dial"
	"github.com/mt-inside/tls-fetch/pkg/resolve"
	"github.com/mt-inside/tls-fetch/pkg/state"
	"github.com/mt-inside/tls-fetch/pkg/tlsclient"
)

const readBufSize = 4096

// requestParts is the fixed HTTP/1.0 request, split into the three writes we
// send it as. Logically one request; on the wire:
//
//	GET <path> HTTP/1.0\r\nConnection: close\r\nHost: <host>\r\n\r\n
func requestParts(host, path string) [][]byte {
	return [][]byte{
		[]byte(fmt.Sprintf("GET %s HTTP/1.0\r\nConnection: close\r\n", path)),
		[]byte(fmt.Sprintf("Host: %s\r\n", host)),
		[]byte("\r\n"),
	}
}

// Fetch runs the whole blocking pipeline: resolve, connect, handshake, send
// the request, stream the response to out until the peer's orderly close, shut
// the session down. Every step blocks until it finishes or fails; any failure
// abandons the rest and goes straight to cleanup (no retries, no reconnects).
// The returned Trail is empty on success. The session and the context are
// released on every exit path, in that order, exactly once.
func Fetch(
	s output.TtyStyler,
	b output.Bios,
	log logr.Logger,
	requestData *state.RequestData,
	responseData *state.ResponseData,
	out io.Writer,
) *Trail {
	trail := &Trail{}

	/* == TLS context: config is checked before we spend any time on the network == */

	minVersion, err := tlsclient.ParseVersion(requestData.TlsMinVersion)
	if err != nil {
		trail.Add("config", err)
		return trail
	}
	ctx, err := tlsclient.NewContext(log, tlsclient.Options{
		MinVersion:     minVersion,
		SkipVerify:     !requestData.TlsVerifyPeer,
		TrustStorePath: requestData.TlsServingCA,
	})
	if err != nil {
		trail.Add("config", err)
		return trail
	}
	defer ctx.Close()

	/* == DNS == */

	b.Banner("DNS")

	if requestData.DnsCheckDnssec {
		resolve.CheckDnssec(s, b, requestData.Target)
	}

	port, err := resolve.Port(requestData.Port)
	if err != nil {
		trail.Add("resolve", err)
		return trail
	}

	resolver := resolve.NewResolver(log, requestData.Timeout)
	candidates, err := resolver.Resolve(requestData.Target, port)
	if err != nil {
		trail.Add("resolve", err)
		return trail
	}
	responseData.DnsResolves = candidates

	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.String())
	}
	fmt.Printf("%s resolves to %s\n", s.Addr(requestData.Target), s.List(names, s.AddrStyle))

	/* == TCP == */

	b.Banner("TCP")

	responseData.TransportDialTime = time.Now()
	conn, err := dial.Connect(log, candidates, requestData.Timeout)
	if err != nil {
		trail.Add("connect", err)
		return trail
	}
	responseData.TransportConnTime = time.Now()
	responseData.TransportLocalAddr = conn.LocalAddr()
	responseData.TransportRemoteAddr = conn.RemoteAddr()

	fmt.Println("Stream established with", s.Addr(conn.RemoteAddr().String()))

	/* == TLS == */

	b.Banner("TLS")

	// The session owns conn from here; sess.Free is the only close needed
	sess := ctx.NewSession(log)
	defer sess.Free()
	if err := sess.Bind(conn); err != nil {
		_ = conn.Close()
		trail.Add("bind", err)
		return trail
	}

	if err := sess.SetIdentity(requestData.TlsServerName, requestData.TlsValidateName); err != nil {
		trail.Add("identity", err)
		return trail
	}
	fmt.Printf("\tTLS handshake: SNI ServerName %s\n", s.OptionalString(requestData.TlsServerName, s.AddrStyle))

	err = sess.Handshake()
	responseData.TlsAgreedVersion = sess.AgreedVersion()
	responseData.TlsAgreedCipherSuite = sess.AgreedCipherSuite()
	responseData.TlsAgreedALPN = sess.AgreedALPN()
	responseData.TlsVerification = sess.Verification()
	responseData.TlsServerCerts = sess.PeerCerts()
	if err != nil {
		trail.Add("handshake", err)
		return trail
	}

	fmt.Printf("%s handshake complete\n", s.Noun(output.TLSVersionName(sess.AgreedVersion())))
	fmt.Printf("\tcert valid? %s\n", s.YesNo(sess.Verification().OK()))

	/* == Request == */

	b.Banner("Request")

	fmt.Printf("\tHTTP request: Host %s | %s %s\n", s.Addr(requestData.HttpHost), s.Verb("GET"), s.Noun(requestData.HttpPath))

	for _, part := range requestParts(requestData.HttpHost, requestData.HttpPath) {
		if _, err := sess.Write(part); err != nil {
			trail.Add("write", err)
			return trail
		}
	}

	/* == Response: stream chunks to the sink as they arrive == */

	b.Banner("Response")

	buf := make([]byte, readBufSize)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			if len(responseData.BodyPreview) == 0 {
				responseData.BodyPreview = append(responseData.BodyPreview, buf[:n]...)
			}
			responseData.HttpResponseBytes += int64(n)
			if _, werr := out.Write(buf[:n]); werr != nil {
				trail.Add("sink", werr)
				return trail
			}
		}
		if err == io.EOF {
			// Orderly close; the peer said it's done sending
			break
		}
		if err != nil {
			trail.Add("read", err)
			return trail
		}
	}

	log.V(1).Info("response complete", "bytes", responseData.HttpResponseBytes)

	/* == Shutdown == */

	// The read loop saw the peer's close signal, so the only successful
	// outcome here is immediate completion; a pending shutdown can't happen
	// and is reported as an error if it somehow does
	outcome, err := sess.Shutdown()
	if err != nil {
		trail.Add("shutdown", err)
		return trail
	}
	if outcome != tlsclient.ShutdownDone {
		trail.Add("shutdown", &tlsclient.ShutdownError{
			Err: fmt.Errorf("shutdown pending after the peer's close was already observed"),
		})
		return trail
	}

	return trail
}
