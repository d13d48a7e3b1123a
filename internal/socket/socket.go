// Package socket implements C1: a TCP/TLS transport with controlled retry,
// explicit read/write timeouts, and typed failure surfaces. Connections are
// driven with blocking calls under a deadline rather than a manual
// readability/writability poll loop — on top of the Go runtime's scheduler
// this gives the same "suspend at I/O, many logical tasks per OS thread"
// behavior the spec describes without a userspace coroutine shim.
package socket

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// defaultProtocols is the priority-ordered TLS version list tried when the
// caller asks for a secure connection without pinning an exact version.
// Newest first: a failure at one version falls back to the next.
var defaultProtocols = []uint16{
	tls.VersionTLS13,
	tls.VersionTLS12,
}

// Config describes how to reach one peer.
type Config struct {
	Host string
	Port int

	// Secure enables TLS. When ExactProtocol is zero, Connect iterates
	// defaultProtocols on failure; when ExactProtocol is set, no fallback
	// is attempted and a failure is permanent (ErrRetryLimit).
	Secure        bool
	ExactProtocol uint16

	// Verify requests peer-certificate hostname verification. When RootCAs
	// is nil, the tls package's own chain and hostname checks are skipped
	// and Socket performs a manual CommonName/SAN match against Host and
	// Aliases instead.
	Verify  bool
	RootCAs *x509.CertPool
	Aliases []string
}

// Socket wraps one live connection plus the bookkeeping needed to redial it.
type Socket struct {
	cfg  Config
	conn net.Conn
}

func New(cfg Config) *Socket {
	return &Socket{cfg: cfg}
}

// Connect dials the configured peer, retrying across TLS protocol versions
// per the Config.Secure/ExactProtocol rule. It returns ErrRetryLimit once
// every protocol option has been exhausted and ErrSignalCaught if the
// context is cancelled mid-dial.
func (s *Socket) Connect(ctx context.Context, timeout time.Duration) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	dialer := &net.Dialer{Timeout: timeout}

	if !s.cfg.Secure {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return classifyDialErr(ctx, err)
		}
		s.conn = conn
		return nil
	}

	protocols := []uint16{s.cfg.ExactProtocol}
	noFallback := s.cfg.ExactProtocol != 0
	if !noFallback {
		protocols = defaultProtocols
	}

	var lastErr error
	for _, version := range protocols {
		tlsConf := &tls.Config{
			ServerName:         s.cfg.Host,
			MinVersion:         version,
			MaxVersion:         version,
			RootCAs:            s.cfg.RootCAs,
			InsecureSkipVerify: s.cfg.Verify && s.cfg.RootCAs == nil,
		}

		rawConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}

		tlsConn := tls.Client(rawConn, tlsConf)
		tlsConn.SetDeadline(time.Now().Add(timeout))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			lastErr = err
			continue
		}
		tlsConn.SetDeadline(time.Time{})

		if s.cfg.Verify && s.cfg.RootCAs == nil {
			if err := s.verifyPeerHostname(tlsConn); err != nil {
				tlsConn.Close()
				lastErr = err
				continue
			}
		}

		s.conn = tlsConn
		return nil
	}

	if ctx.Err() == context.Canceled {
		return ErrSignalCaught
	}
	if noFallback {
		return fmt.Errorf("%w: %v", ErrRetryLimit, lastErr)
	}
	return fmt.Errorf("%w: exhausted %d protocol(s): %v", ErrRetryLimit, len(protocols), lastErr)
}

// verifyPeerHostname matches the peer certificate's CommonName or SAN
// entries against Host and Aliases, with leading "*." wildcard support,
// used only when RootCAs verification was skipped.
func (s *Socket) verifyPeerHostname(conn *tls.Conn) error {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ErrCertificateMismatch
	}
	cert := state.PeerCertificates[0]

	candidates := append([]string{s.cfg.Host}, s.cfg.Aliases...)
	names := append([]string{cert.Subject.CommonName}, cert.DNSNames...)

	for _, want := range candidates {
		for _, have := range names {
			if matchHostname(have, want) {
				return nil
			}
		}
	}
	return ErrCertificateMismatch
}

func matchHostname(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		if strings.HasSuffix(host, suffix) && !strings.Contains(strings.TrimSuffix(host, suffix), ".") {
			return true
		}
	}
	return false
}

func classifyDialErr(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ErrSignalCaught
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	return fmt.Errorf("%w: %v", ErrRetryable, err)
}

// Listen opens a server-side accept socket. It exists for the protocol
// engine's own tests (a local test NNTP server), never for production use.
// reusePort is accepted for contract parity but Go's net package has no
// portable SO_REUSEPORT knob, so it is a no-op here.
func Listen(addr string, _ bool) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Read aggregates non-blocking reads up to maxBytes or until timeout
// elapses, returning a nil error and a zero-length slice on graceful close.
func (s *Socket) Read(maxBytes int, timeout time.Duration) ([]byte, error) {
	if s.conn == nil {
		return nil, ErrConnectionBroken
	}

	deadline := time.Now().Add(timeout)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, maxBytes)
	total := 0
	for total < maxBytes {
		n, err := s.conn.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf[:total], nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return buf[:total], nil
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectionBroken, err)
		}
	}
	return buf[:total], nil
}

// Send writes data under a stall timer derived from its size:
// max(len(data)/10800, 15) + 10 seconds, matching the spec's formula.
func (s *Socket) Send(data []byte) error {
	if s.conn == nil {
		return ErrConnectionBroken
	}

	seconds := float64(len(data)) / 10800.0
	if seconds < 15 {
		seconds = 15
	}
	stall := time.Duration(seconds+10) * time.Second

	if err := s.conn.SetWriteDeadline(time.Now().Add(stall)); err != nil {
		return err
	}

	_, err := s.conn.Write(data)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrWriteTimeout
		}
		return fmt.Errorf("%w: %v", ErrConnectionBroken, err)
	}
	return nil
}

func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Conn exposes the underlying net.Conn for callers (the NNTP Connection)
// that want to wrap it in a buffered textproto-style reader.
func (s *Socket) Conn() net.Conn { return s.conn }
