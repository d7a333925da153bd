package message

import (
	"bytes"
	"errors"
	"math/rand"
	"time"
)

// ErrNoBoundary means a message has no CRLF CRLF blank line separating its
// header block from its body, so it can't be rewritten safely.
var ErrNoBoundary = errors.New(
	"message has no blank line between header and body",
)

var (
	crlf      = []byte("\r\n")
	emptyLine = []byte("\r\n\r\n")

	datePrefix      = []byte("Date:")
	messageIDPrefix = []byte("Message-ID:")
)

// SplitLines splits buf into line slices. Each line runs up to and includes
// its LF; the final line may have no terminator. The slices alias buf and
// cover it exactly, so concatenating them reproduces buf.
func SplitLines(buf []byte) [][]byte {
	lines := [][]byte{}
	offset := 0
	for offset < len(buf) {
		i := bytes.IndexByte(buf[offset:], '\n')
		if i == -1 {
			lines = append(lines, buf[offset:])
			break
		}
		lines = append(lines, buf[offset:offset+i+1])
		offset += i + 1
	}
	return lines
}

// SplitMessage splits a raw message at the first CRLF CRLF into its header
// block and body. Neither slice includes the blank line itself. Returns
// ErrNoBoundary if the message has no blank line.
func SplitMessage(msg []byte) (header []byte, body []byte, err error) {
	i := bytes.Index(msg, emptyLine)
	if i == -1 {
		return nil, nil, ErrNoBoundary
	}
	return msg[:i], msg[i+len(emptyLine):], nil
}

// isContinuationLine reports whether a header line is a folded continuation
// of the previous field (RFC 5322 folding: the line starts with whitespace).
func isContinuationLine(line []byte) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

// newDateLine builds a fresh, unfolded Date header line for the time now,
// e.g. "Date: Mon, 02 Jan 2006 15:04:05 -0700" plus CRLF.
func newDateLine(now time.Time) []byte {
	return []byte("Date: " + now.Format("Mon, 02 Jan 2006 15:04:05 -0700") + "\r\n")
}

const messageIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Length of the random part of a generated Message-ID. With 62 characters
// over a 62-symbol alphabet, collisions across calls aren't a concern.
const messageIDLength = 62

// newMessageIDLine builds a fresh, unfolded Message-ID header line with a
// random alphanumeric id, plus CRLF.
func newMessageIDLine() []byte {
	id := make([]byte, messageIDLength)
	for i := range id {
		id[i] = messageIDChars[rand.Intn(len(messageIDChars))]
	}
	return []byte("Message-ID: <" + string(id) + ">\r\n")
}

// ReplaceHeader rewrites the requested fields within the line sequence of a
// header block. For each requested field, the first line whose exact prefix
// matches the field name plus colon is replaced with a freshly generated
// line, and any folded continuation lines that followed it are dropped,
// since the new line carries the whole value. A prefix match is
// case-sensitive and exact: "X-Date:" never matches "Date:". An absent
// field is a no-op. With both flags false the input is returned as is.
func ReplaceHeader(lines [][]byte, updateDate bool, updateMessageID bool) [][]byte {
	if !updateDate && !updateMessageID {
		return lines
	}

	replaced := make([][]byte, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		var fresh []byte
		if updateDate && bytes.HasPrefix(lines[i], datePrefix) {
			fresh = newDateLine(time.Now())
			updateDate = false
		} else if updateMessageID && bytes.HasPrefix(lines[i], messageIDPrefix) {
			fresh = newMessageIDLine()
			updateMessageID = false
		}

		if fresh == nil {
			replaced = append(replaced, lines[i])
			continue
		}

		replaced = append(replaced, fresh)
		for i+1 < len(lines) && isContinuationLine(lines[i+1]) {
			i++
		}
	}
	return replaced
}

// ReplaceMessage produces the message to transmit for msg and the two update
// flags. With both flags false it returns msg itself, bytes and backing
// array untouched. Otherwise it splits the message, rewrites the header
// lines, and recombines header, blank line, and the original body into a
// freshly allocated buffer, leaving msg intact for later comparison.
// A message with no header/body boundary returns ErrNoBoundary.
func ReplaceMessage(msg []byte, updateDate bool, updateMessageID bool) ([]byte, error) {
	if !updateDate && !updateMessageID {
		return msg, nil
	}

	header, body, err := SplitMessage(msg)
	if err != nil {
		return nil, err
	}

	lines := ReplaceHeader(SplitLines(header), updateDate, updateMessageID)

	buf := make([]byte, 0, len(msg))
	for _, l := range lines {
		buf = append(buf, l...)
	}
	// The header block never ends in CRLF (the blank-line search would have
	// stopped sooner), but a generated line replacing the final field does.
	// Drop it so recombining doesn't introduce an extra blank line.
	buf = bytes.TrimSuffix(buf, crlf)
	buf = append(buf, emptyLine...)
	buf = append(buf, body...)
	return buf, nil
}
