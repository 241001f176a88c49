package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultRequestCap is the largest request line the server accepts.
const DefaultRequestCap = 1024

// RequestSettle is how long ReadRequest waits for further bytes once the
// bytes received so far parse as a request without a delimiter.
const RequestSettle = 50 * time.Millisecond

var (
	// ErrMalformedRequest indicates the request is not "<filename> <workerCount>".
	ErrMalformedRequest = errors.New("malformed request")
	// ErrInvalidWorkers indicates a non-positive worker count.
	ErrInvalidWorkers = errors.New("worker count must be positive")
	// ErrRequestTooLarge indicates the request exceeded the byte cap.
	ErrRequestTooLarge = errors.New("request too large")
	// ErrEmptyRequest indicates the peer closed before sending a request.
	ErrEmptyRequest = errors.New("empty request")
)

// Request asks the server for one file split across Workers segments.
type Request struct {
	Filename string
	Workers  int
}

func (r Request) String() string {
	return FormatRequest(r)
}

// FormatRequest renders the request line without a trailing delimiter.
func FormatRequest(r Request) string {
	return r.Filename + " " + strconv.Itoa(r.Workers)
}

// Validate checks the fields of a request built in code.
func (r Request) Validate() error {
	if r.Filename == "" || strings.ContainsAny(r.Filename, " \t\r\n") {
		return fmt.Errorf("%w: filename %q", ErrMalformedRequest, r.Filename)
	}
	if r.Workers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, r.Workers)
	}
	return nil
}

// ParseRequest parses "<filename> <workerCount>". Surrounding whitespace,
// a trailing newline and trailing NUL padding are ignored.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\x00")
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}
	workers, err := strconv.Atoi(fields[1])
	if err != nil {
		return Request{}, fmt.Errorf("%w: worker count %q", ErrMalformedRequest, fields[1])
	}
	req := Request{Filename: fields[0], Workers: workers}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// WriteRequest sends the request line followed by a newline in one write.
func WriteRequest(w io.Writer, r Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := io.WriteString(w, FormatRequest(r)+"\n"); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// ReadRequest reads one request of at most limit bytes. Reading stops at a
// newline, at end of stream, or at the cap. The request has no mandatory
// delimiter: when r supports read deadlines and the bytes received so far
// parse as a request, ReadRequest waits RequestSettle for more bytes and
// accepts the request once the peer goes quiet. The settle deadline replaces
// any deadline the caller set; callers reset it afterwards.
func ReadRequest(r io.Reader, limit int) (Request, error) {
	if limit <= 0 {
		limit = DefaultRequestCap
	}
	dr, canSettle := r.(interface{ SetReadDeadline(time.Time) error })
	buf := make([]byte, limit)
	n := 0
	settling := false
	for n < limit {
		m, err := r.Read(buf[n:])
		n += m
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			return ParseRequest(string(buf[:i]))
		}
		if err != nil {
			if settling && isTimeout(err) {
				return ParseRequest(string(buf[:n]))
			}
			if errors.Is(err, io.EOF) {
				if n == 0 {
					return Request{}, ErrEmptyRequest
				}
				return ParseRequest(string(buf[:n]))
			}
			return Request{}, fmt.Errorf("failed to read request: %w", err)
		}
		if m > 0 && canSettle {
			if _, perr := ParseRequest(string(buf[:n])); perr == nil {
				if derr := dr.SetReadDeadline(time.Now().Add(RequestSettle)); derr == nil {
					settling = true
				}
			}
		}
	}
	if req, err := ParseRequest(string(buf[:n])); err == nil {
		return req, nil
	}
	return Request{}, fmt.Errorf("%w: more than %d bytes", ErrRequestTooLarge, limit)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
