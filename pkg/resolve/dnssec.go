package resolve

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/mt-inside/http-log/pkg/output"
	"github.com/peterzen/goresolver"
)

// CheckDnssec validates the name's DNSSEC chain and prints the verdict.
// Information only; the TLS trust decision doesn't depend on it.
// goresolver does the full RRSIG/DNSKEY/DS walk for us - recursive resolvers
// are known to strip DNSSEC records, so asking our local one to validate would
// prove nothing.
func CheckDnssec(s output.TtyStyler, b output.Bios, name string) {
	resolver, err := goresolver.NewResolver("/etc/resolv.conf")
	if ok := b.CheckWarn(err); !ok {
		return
	}

	_, err = resolver.StrictNSQuery(dns.Fqdn(name), dns.TypeA)

	fmt.Printf("DNSSEC? %s\n", s.YesError(err))
}
