package resolve

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	"github.com/miekg/dns"
)

// Candidate is one transport address the connector may try, in the order we
// produced them. A fresh Resolve() is needed for a retry; the slice is a
// snapshot, not a live view of DNS.
type Candidate struct {
	IP   net.IP
	Port uint16
}

func (c Candidate) String() string {
	return net.JoinHostPort(c.IP.String(), fmt.Sprintf("%d", c.Port))
}

// ResolutionError means the name couldn't be turned into any candidate address
// (NXDOMAIN, no records of a useful type, dead resolver, etc).
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("can't resolve %s: %v", e.Name, e.Err)
}
func (e *ResolutionError) Unwrap() error { return e.Err }

type Resolver struct {
	log    logr.Logger
	client *dns.Client

	// Loaded from resolv.conf on the first name lookup; literal IPs never
	// touch it
	conf   *dns.ClientConfig
	server string // addr:port of the recursive resolver we ask
}

// NewResolver makes a resolver over the system resolver config (search path
// included). It asks the first configured server, flags set for it to recurse
// on our behalf; manually recursing from the roots would buy us nothing here.
func NewResolver(log logr.Logger, timeout time.Duration) *Resolver {
	return &Resolver{
		log:    log,
		client: &dns.Client{Dialer: &net.Dialer{Timeout: timeout}},
	}
}

// Port turns a numeric port or a service name ("443", "https") into a port
// number.
func Port(service string) (uint16, error) {
	p, err := net.LookupPort("tcp", service)
	if err != nil {
		return 0, &ResolutionError{Name: service, Err: err}
	}
	return uint16(p), nil
}

// Resolve produces the ordered candidate list for host:port. Literal IPs
// short-circuit DNS. v4 candidates come first, in answer order, then v6.
func (r *Resolver) Resolve(host string, port uint16) ([]Candidate, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []Candidate{{IP: ip, Port: port}}, nil
	}

	if r.conf == nil {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, &ResolutionError{Name: host, Err: err}
		}
		r.conf = conf
		r.server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}

	// A name is only unresolvable if neither family yields addresses; a
	// v6-only or v4-only host is fine
	var ips []net.IP
	var errs []error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		got, err := r.query(host, qtype)
		if err != nil {
			r.log.V(1).Info("no addresses of one family", "host", host, "qtype", dns.TypeToString[qtype], "reason", err)
			errs = append(errs, err)
			continue
		}
		ips = append(ips, got...)
	}

	if len(ips) == 0 {
		return nil, &ResolutionError{Name: host, Err: errors.Join(errs...)}
	}

	candidates := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, Candidate{IP: ip, Port: port})
	}
	r.log.V(1).Info("resolved", "host", host, "candidates", candidates)

	return candidates, nil
}

// query walks the search path like libc would, stopping at the first FQDN that
// yields answers.
func (r *Resolver) query(host string, qtype uint16) ([]net.IP, error) {
	var lastErr error

	for _, fqdn := range r.conf.NameList(host) {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)

		in, _, err := r.client.Exchange(m, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode == dns.RcodeNameError {
			lastErr = fmt.Errorf("NXDOMAIN for %s", fqdn)
			continue
		}

		var ips []net.IP
		for _, ans := range in.Answer {
			// CNAMEs in the answer section just chain to the A/AAAA records
			// also present in it; no need to follow them ourselves
			switch t := ans.(type) {
			case *dns.A:
				ips = append(ips, t.A)
			case *dns.AAAA:
				ips = append(ips, t.AAAA)
			}
		}
		if len(ips) > 0 {
			return ips, nil
		}
		lastErr = fmt.Errorf("no address records for %s", fqdn)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("empty search path")
	}
	return nil, lastErr
}
