package state

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/mt-inside/go-usvc"
	"github.com/mt-inside/http-log/pkg/output"

	"github.com/mt-inside/tls-fetch/pkg/resolve"
	"github.com/mt-inside/tls-fetch/pkg/tlsclient"
)

// ResponseData is everything we observed during the attempt. Filled in as the
// pipeline runs, so on a failure it holds whatever was learned up to the point
// things went wrong.
type ResponseData struct {
	DnsResolves []resolve.Candidate

	TransportDialTime   time.Time
	TransportConnTime   time.Time
	TransportLocalAddr  net.Addr
	TransportRemoteAddr net.Addr

	TlsAgreedVersion     uint16
	TlsAgreedCipherSuite uint16
	TlsAgreedALPN        string
	TlsVerification      tlsclient.VerificationResult
	TlsServerCerts       []*x509.Certificate

	HttpResponseBytes int64
	// First chunk of the response, kept for the meta report; the full stream
	// went to the output sink as it arrived
	BodyPreview []byte
}

func NewResponseData() *ResponseData {
	return &ResponseData{}
}

func (rD *ResponseData) Print(
	s output.TtyStyler, b output.Bios,
	requestData *RequestData,
) {
	b.Banner("DNS")

	candidates := make([]string, 0, len(rD.DnsResolves))
	for _, c := range rD.DnsResolves {
		candidates = append(candidates, c.String())
	}
	fmt.Printf("%s resolves to %s\n", s.Addr(requestData.Target), s.List(candidates, s.AddrStyle))

	b.Banner("Transport")

	if rD.TransportRemoteAddr != nil {
		fmt.Printf("Stream established with %s (from %s)\n", s.Addr(rD.TransportRemoteAddr.String()), s.Addr(rD.TransportLocalAddr.String()))
		fmt.Printf("\tconnect took %s\n", s.Noun(rD.TransportConnTime.Sub(rD.TransportDialTime).String()))
	} else {
		b.PrintErr("no stream established")
	}

	b.Banner("TLS")

	if rD.TlsAgreedVersion != 0 {
		fmt.Printf("%s handshake with %s\n", s.Noun(output.TLSVersionName(rD.TlsAgreedVersion)), s.Addr(requestData.TlsValidateName))
		fmt.Printf("\tcypher suite %s\n", s.Noun(tls.CipherSuiteName(rD.TlsAgreedCipherSuite)))
		fmt.Printf("\tALPN proto %s\n", s.OptionalString(rD.TlsAgreedALPN, s.NounStyle))
	}

	if rD.TlsVerification.OK() {
		fmt.Printf("\tcert valid? %s\n", s.Ok(rD.TlsVerification.String()))
	} else {
		fmt.Printf("\tcert valid? %s\n", s.Fail(rD.TlsVerification.String()))
	}

	if len(rD.TlsServerCerts) > 0 {
		fmt.Println()
		fmt.Println("Received serving cert chain")
		s.ServingCertChain(&requestData.TlsValidateName, nil, rD.TlsServerCerts, nil)
		fmt.Println()
	}

	b.Banner("HTTP")

	bodyLen := len(rD.BodyPreview)
	fmt.Printf("%s bytes of raw response streamed\n", s.Bright(strconv.FormatInt(rD.HttpResponseBytes, 10)))
	fmt.Printf("Valid utf-8? %s\n", s.YesNo(utf8.Valid(rD.BodyPreview)))
	fmt.Println()

	printLen := usvc.MinInt(bodyLen, 72)
	fmt.Printf("%v", string(rD.BodyPreview[0:printLen])) // assumes utf8
	if rD.HttpResponseBytes > int64(printLen) {
		fmt.Printf("<%d bytes elided>", rD.HttpResponseBytes-int64(printLen))
	}
	if bodyLen > 0 {
		fmt.Println()
	}
}
