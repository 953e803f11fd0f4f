package tlsclient

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

type VerifyStatus int

const (
	// VerifyNoResult: the handshake never got as far as checking the peer's
	// certs, so a failure is a lower-layer protocol or transport problem.
	VerifyNoResult VerifyStatus = iota
	VerifyOK
	VerifyUnknownAuthority
	VerifyHostnameMismatch
	VerifyExpired
	VerifyNotYetValid
	VerifyNoRoots
	VerifyOther
)

func (v VerifyStatus) String() string {
	switch v {
	case VerifyNoResult:
		return "no result"
	case VerifyOK:
		return "ok"
	case VerifyUnknownAuthority:
		return "unknown authority"
	case VerifyHostnameMismatch:
		return "hostname mismatch"
	case VerifyExpired:
		return "certificate expired"
	case VerifyNotYetValid:
		return "certificate not yet valid"
	case VerifyNoRoots:
		return "no system roots"
	default:
		return "invalid certificate"
	}
}

// VerificationResult is produced during the handshake and read-only after it.
type VerificationResult struct {
	Status VerifyStatus
	Reason string
}

func (r VerificationResult) OK() bool { return r.Status == VerifyOK }

func (r VerificationResult) String() string {
	if r.Reason == "" {
		return r.Status.String()
	}
	return fmt.Sprintf("%s: %s", r.Status, r.Reason)
}

// classifyVerifyError maps x509's error types onto our stable status codes,
// keeping the library's message as the human-readable reason.
func classifyVerifyError(err error) VerificationResult {
	result := VerificationResult{Status: VerifyOther, Reason: err.Error()}

	var hostnameErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	var invalidErr x509.CertificateInvalidError
	var rootsErr x509.SystemRootsError

	switch {
	case errors.As(err, &hostnameErr):
		result.Status = VerifyHostnameMismatch
	case errors.As(err, &authErr):
		result.Status = VerifyUnknownAuthority
	case errors.As(err, &rootsErr):
		result.Status = VerifyNoRoots
	case errors.As(err, &invalidErr):
		if invalidErr.Reason == x509.Expired {
			// x509 uses one reason code for both ends of the validity window
			result.Status = VerifyExpired
			if invalidErr.Cert != nil && time.Now().Before(invalidErr.Cert.NotBefore) {
				result.Status = VerifyNotYetValid
			}
		}
	}

	return result
}
