package utils

import "net"

// ServerNameConformant says whether sn is legal as an SNI ServerName. RFC 6066
// §3 allows DNS hostnames only: no literal IPs, no port suffix. Sending a
// non-conformant value is worse than sending none; servers are within their
// rights to hard-fail the handshake on one.
func ServerNameConformant(sn string) bool {
	if ip := net.ParseIP(sn); ip != nil {
		return false
	}
	if _, _, err := net.SplitHostPort(sn); err == nil {
		return false
	}
	return true
}
