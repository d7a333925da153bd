package smtpclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/sendeml/sendeml/message"
	"github.com/sendeml/sendeml/userconfig"
)

// ErrConnectionClosed means the server closed the connection, or a read
// timed out, before a complete reply arrived. Fatal for the session.
var ErrConnectionClosed = errors.New(
	"connection closed before a complete reply",
)

// NegativeReplyError is a 4xx/5xx reply from the server. Fatal for the
// session; the caller is expected to close the connection.
type NegativeReplyError struct {
	Line string
}

func (e *NegativeReplyError) Error() string {
	return fmt.Sprintf("negative reply from the server: %v", e.Line)
}

// The final line of a (possibly multi-line) reply has a space as its fourth
// character; a hyphen there means more lines follow.
var lastReplyLine = regexp.MustCompile(`^\d{3} `)

// Files larger than this are certainly not interoperability test messages.
// Doubtful we'll get an email this big, but we need a limit.
const maxMessageSize int64 = 100 * units.MiB

// Client drives the SMTP dialogue over a single connection. Commands and
// replies are strictly sequential: nothing is pipelined.
type Client struct {
	conn   net.Conn
	rdr    *bufio.Reader
	logger zerolog.Logger

	// Messages fully sent on this connection so far. Decides whether the
	// next message needs a RSET first.
	sent int
}

// NewClient wraps an already-open connection. Use Dial unless you're
// supplying your own connection, e.g. in tests.
func NewClient(conn net.Conn, logger zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		rdr:    bufio.NewReader(conn),
		logger: logger,
	}
}

// Dial connects to the SMTP server at addr. A non-zero timeout becomes a
// read deadline for the whole connection, not per command.
func Dial(addr string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("can't connect to the server at %v: %v", addr, err)
	}
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return NewClient(conn, logger), nil
}

// Close tears down the connection. You should defer this.
func (c *Client) Close() {
	if err := c.conn.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("problem closing the connection")
	}
}

// RecvReply reads one full server reply, consuming and logging continuation
// lines until the final line arrives. The final line is returned if its
// status code starts with 2 or 3; any other leading digit is a
// NegativeReplyError. A stream that ends (or times out) before a final line
// is ErrConnectionClosed.
func (c *Client) RecvReply() (string, error) {
	for {
		raw, err := c.rdr.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		line := strings.TrimRight(raw, " \t\r\n")
		c.logger.Info().Str("line", line).Msg("recv")

		if !lastReplyLine.MatchString(line) {
			// A continuation line. Nothing to decide until the last one.
			continue
		}
		if line[0] == '2' || line[0] == '3' {
			return line, nil
		}
		return "", &NegativeReplyError{Line: line}
	}
}

// SendCmd writes one command line plus CRLF, logs it, and blocks until the
// server's reply is classified. Control characters in the logged form are
// rendered readably, so the end-of-data command appears as "<CRLF>.".
func (c *Client) SendCmd(cmd string) error {
	c.logger.Info().
		Str("command", strings.ReplaceAll(cmd, "\r\n", "<CRLF>")).
		Msg("send")

	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("can't write to the server: %v", err)
	}
	_, err := c.RecvReply()
	return err
}

// sendRawBytes transmits message bytes exactly as given, with no logging of
// the payload itself and no reply expected: the server stays quiet until
// the end-of-data line.
func (c *Client) sendRawBytes(buf []byte) error {
	c.logger.Debug().Int("size", len(buf)).Msg("sending raw message bytes")
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("can't write the message to the server: %v", err)
	}
	return nil
}

// readMessageFile reads one eml file whole, capped at maxMessageSize.
func readMessageFile(path string) ([]byte, error) {
	return readMessageFileCapped(path, maxMessageSize)
}

// readMessageFileCapped reads the file at path whole, or errors if it holds
// more than limit bytes. Truncating would be worse than failing: a partial
// message transmitted as if complete defeats byte-exact testing.
func readMessageFileCapped(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Read one byte past the limit so an at-limit file and an over-limit
	// file are distinguishable.
	buf, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, fmt.Errorf(
			"the file is larger than the %v message limit",
			units.BytesSize(float64(limit)),
		)
	}
	return buf, nil
}

// SendMessages runs the whole session over this connection: greeting, EHLO,
// one MAIL FROM/RCPT TO/DATA sequence per eml file with RSET between
// messages, and a final QUIT even if nothing was sent. A missing or
// unrewritable file is skipped with a log line; a negative reply or closed
// connection aborts the session and propagates.
func (c *Client) SendMessages(s *userconfig.Settings, files []string) error {
	// The server speaks first.
	if _, err := c.RecvReply(); err != nil {
		return err
	}
	if err := c.SendCmd("EHLO localhost"); err != nil {
		return err
	}

	for _, path := range files {
		msg, err := readMessageFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().
				Str("emlFile", path).
				Msg("the file does not exist, skipping it")
			continue
		}
		if err != nil {
			c.logger.Error().
				Str("emlFile", path).
				Err(err).
				Msg("can't read the file, skipping it")
			continue
		}

		out, err := message.ReplaceMessage(msg, s.UpdateDate, s.UpdateMessageID)
		if err != nil {
			// Without a header/body boundary the message can't be rewritten
			// safely. That is this file's failure, not the session's.
			c.logger.Error().
				Str("emlFile", path).
				Err(err).
				Msg("can't rewrite the message, skipping it")
			continue
		}

		if c.sent > 0 {
			c.logger.Info().Msg("---")
			if err := c.SendCmd("RSET"); err != nil {
				return err
			}
		}

		c.logger.Info().Str("emlFile", path).Msg("sending a message")
		if err := c.SendCmd("MAIL FROM: <" + s.FromAddress + ">"); err != nil {
			return err
		}
		for _, to := range s.ToAddresses {
			if err := c.SendCmd("RCPT TO: <" + to + ">"); err != nil {
				return err
			}
		}
		if err := c.SendCmd("DATA"); err != nil {
			return err
		}
		if err := c.sendRawBytes(out); err != nil {
			return err
		}
		// End of data: a lone dot on its own line. The leading CRLF closes
		// the last message line whether or not the file ends with one.
		if err := c.SendCmd("\r\n."); err != nil {
			return err
		}
		c.sent++
	}

	return c.SendCmd("QUIT")
}
