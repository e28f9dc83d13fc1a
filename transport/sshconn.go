// Package transport provides the host-side plumbing Session.Step needs but
// does not own: an SSH duplex to a remote sz/rz, and local raw-terminal mode
// for driving an interactive gsz/grz session. None of it touches zmodem
// protocol state directly — it only moves bytes in and out of a
// zmodem.Session's Step loop.
package transport

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/nimblearc/gozmodem/zmodem"
)

// SSHConn is a duplex byte stream to a remote sz/rz invoked over an SSH
// session, wrapping stdin/stdout as one io.ReadWriter a host can pump
// straight into Session.Step.
type SSHConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

// DialAndRun connects to addr, authenticates with config, starts remoteCmd
// (e.g. "rz --zmodem" or "sz --zmodem -"), and returns a duplex wrapping its
// pipes. Closing the returned SSHConn closes the session and the
// connection.
func DialAndRun(addr string, config *ssh.ClientConfig, remoteCmd string) (*SSHConn, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("new session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	if err := session.Start(remoteCmd); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start %q: %w", remoteCmd, err)
	}
	return &SSHConn{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// Read satisfies io.Reader by reading the remote command's stdout.
func (c *SSHConn) Read(p []byte) (int, error) { return c.stdout.Read(p) }

// Write satisfies io.Writer by writing to the remote command's stdin.
func (c *SSHConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Stderr exposes the remote command's stderr, typically drained in a
// background goroutine for diagnostics (lrzsz's remote sz/rz write protocol
// chatter there).
func (c *SSHConn) Stderr() io.Reader { return c.stderr }

// Wait blocks until the remote command exits.
func (c *SSHConn) Wait() error { return c.session.Wait() }

// Close closes stdin (signaling EOF to the remote command), then the
// session and the underlying connection.
func (c *SSHConn) Close() error {
	c.stdin.Close()
	sessErr := c.session.Close()
	connErr := c.client.Close()
	if sessErr != nil {
		return sessErr
	}
	return connErr
}

// Pump drives one zmodem.Session to completion over conn: it alternates
// reading available bytes from conn into Session.Step and writing whatever
// Step produces back out, until the session reaches StateComplete or
// StateAbort. bufSize controls the chunk size used for both directions.
//
// Logging, if logger is non-nil, wraps conn with zmodem's LoggingReader/
// LoggingWriter so every byte that crosses the wire is traced the same way
// the engine traces its own frame decode.
func Pump(conn io.ReadWriter, session *zmodem.Session, logger zmodem.Logger, bufSize int) error {
	return PumpDuplex(conn, conn, session, logger, bufSize)
}

// PumpDuplex is Pump for a transport whose inbound and outbound directions
// are not the same value, e.g. an interactive terminal's stdin/stdout.
func PumpDuplex(r io.Reader, w io.Writer, session *zmodem.Session, logger zmodem.Logger, bufSize int) error {
	reader := r
	writer := w
	if logger != nil {
		reader = zmodem.NewLoggingReader(r, logger, "transport")
		writer = zmodem.NewLoggingWriter(w, logger, "transport")
	}

	in := make([]byte, bufSize)
	out := make([]byte, bufSize)

	for {
		n, readErr := reader.Read(in)

		_, produced, state, stepErr := session.Step(in[:n], out)
		if produced > 0 {
			if _, werr := writer.Write(out[:produced]); werr != nil {
				return werr
			}
		}

		switch state {
		case zmodem.StateComplete:
			return nil
		case zmodem.StateAbort:
			if stepErr != nil {
				return stepErr
			}
			return fmt.Errorf("session aborted")
		}

		if readErr != nil {
			if readErr == io.EOF {
				return fmt.Errorf("connection closed before transfer completed")
			}
			return readErr
		}
	}
}
