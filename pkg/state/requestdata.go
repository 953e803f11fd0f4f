package state

import (
	"time"

	"github.com/mt-inside/http-log/pkg/output"
	"github.com/spf13/viper"

	"github.com/mt-inside/tls-fetch/pkg/utils"
)

// RequestData is everything the user asked for, derived once from flags and
// read-only afterwards.
type RequestData struct {
	// Connection target, name or IP, as given on the command line
	Target string
	Port   string

	Timeout time.Duration

	// Name to send for SNI; may be empty (the field is optional)
	TlsServerName string
	// Name to validate presented certs against; shouldn't be empty
	TlsValidateName string
	TlsVerifyPeer   bool
	TlsMinVersion   string
	TlsServingCA    string // path to a PEM bundle; empty means system store

	// HTTP/1.0 Host header value
	HttpHost string
	HttpPath string

	DnsCheckDnssec bool

	PrintMeta bool
	Debug     bool
}

func RequestDataFromViper(s output.TtyStyler, b output.Bios, target, port string) *RequestData {
	requestData := &RequestData{
		Target:         target,
		Port:           port,
		Timeout:        viper.GetDuration("timeout"),
		TlsVerifyPeer:  !viper.GetBool("no-verify"),
		TlsMinVersion:  viper.GetString("min-version"),
		TlsServingCA:   viper.GetString("ca"),
		HttpPath:       viper.GetString("path"),
		DnsCheckDnssec: viper.GetBool("dnssec"),
		PrintMeta:      viper.GetBool("print-meta"),
		Debug:          viper.GetBool("debug"),
	}

	// HTTP Host. Either the explicitly given value, or the connection target,
	// be that name or IP
	requestData.HttpHost = viper.GetString("host")
	if requestData.HttpHost == "" {
		requestData.HttpHost = target
	}

	// TLS SNI ServerName. Explicit value, else the Host value, else nothing -
	// but only ever a name RFC 6066 will let us send
	sni := viper.GetString("sni")
	if utils.ServerNameConformant(sni) {
		requestData.TlsServerName = sni
	}
	if requestData.TlsServerName == "" && utils.ServerNameConformant(requestData.HttpHost) {
		requestData.TlsServerName = requestData.HttpHost
	}

	// Name to validate received certs against - fall back to some non-empty
	// string, even if it is an IP
	requestData.TlsValidateName = requestData.TlsServerName
	if requestData.TlsValidateName == "" {
		requestData.TlsValidateName = requestData.HttpHost
	}

	return requestData
}
