package dial

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/mt-inside/tls-fetch/pkg/resolve"
)

// ConnectError means every candidate was tried and none accepted a connection.
// Attempts holds one error per candidate, in the order they were tried.
type ConnectError struct {
	Attempts []error
}

func (e *ConnectError) Error() string {
	msgs := make([]string, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("all %d candidate addresses failed: %s", len(e.Attempts), strings.Join(msgs, "; "))
}

// Connect walks the candidates in resolver order and returns the first one
// that completes a TCP handshake, no-delay set. Failed part-connections are
// closed before moving on, so on a total failure no socket is left behind.
// timeout 0 blocks for as long as the OS will let a connect() sit.
func Connect(log logr.Logger, candidates []resolve.Candidate, timeout time.Duration) (*net.TCPConn, error) {
	dialer := &net.Dialer{Timeout: timeout}

	connErr := &ConnectError{}
	for _, candidate := range candidates {
		log.V(1).Info("dialing", "addr", candidate.String())

		conn, err := dialer.Dial("tcp", candidate.String())
		if err != nil {
			log.V(1).Info("dial failed", "addr", candidate.String(), "reason", err)
			connErr.Attempts = append(connErr.Attempts, err)
			continue
		}

		// Dialer gave us "tcp"; anything else is a bug
		tcpConn := conn.(*net.TCPConn)

		if err := tcpConn.SetNoDelay(true); err != nil {
			_ = tcpConn.Close()
			connErr.Attempts = append(connErr.Attempts, err)
			continue
		}

		log.V(1).Info("connected", "to", tcpConn.RemoteAddr(), "from", tcpConn.LocalAddr())
		return tcpConn, nil
	}

	if len(connErr.Attempts) == 0 {
		connErr.Attempts = append(connErr.Attempts, fmt.Errorf("no candidate addresses"))
	}
	return nil, connErr
}
