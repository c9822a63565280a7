package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// LineCamera reads decoded codes from a line-oriented source such as a
// keyboard-wedge or serial QR reader, or a named pipe fed by a decoder.
// Every non-empty line is one decoded frame.
type LineCamera struct {
	open   func() (io.ReadCloser, error)
	shared *lineFeed
}

// NewLineCamera opens path anew for every capture session.
func NewLineCamera(path string) *LineCamera {
	return &LineCamera{open: func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			switch {
			case errors.Is(err, fs.ErrPermission):
				return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
			case errors.Is(err, fs.ErrNotExist):
				return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, path)
			default:
				return nil, err
			}
		}
		return f, nil
	}}
}

// NewReaderCamera serves sessions from an already open reader, such as stdin.
// One goroutine reads r for the camera's lifetime, so a line is only consumed
// by the session that is open when it is scanned. r is never closed.
func NewReaderCamera(r io.Reader) *LineCamera {
	return &LineCamera{shared: newLineFeed(r, nil)}
}

func (c *LineCamera) Open(ctx context.Context, _ Constraints) (Session, error) {
	if c.shared != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.shared.start()
		return &lineSession{feed: c.shared}, nil
	}

	type result struct {
		rc  io.ReadCloser
		err error
	}
	// Opening a FIFO blocks until a writer shows up.
	ch := make(chan result, 1)
	go func() {
		rc, err := c.open()
		ch <- result{rc, err}
	}()

	var rc io.ReadCloser
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.rc != nil {
				_ = r.rc.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		rc = r.rc
	}

	quit := make(chan struct{})
	feed := newLineFeed(rc, quit)
	feed.start()
	return &lineSession{feed: feed, closer: rc, quit: quit}, nil
}

// lineFeed turns a reader into a stream of lines. err is set before lines
// is closed.
type lineFeed struct {
	r     io.Reader
	quit  <-chan struct{}
	lines chan string
	err   error
	once  sync.Once
}

func newLineFeed(r io.Reader, quit <-chan struct{}) *lineFeed {
	return &lineFeed{r: r, quit: quit, lines: make(chan string)}
}

func (f *lineFeed) start() {
	f.once.Do(func() { go f.read() })
}

func (f *lineFeed) read() {
	sc := bufio.NewScanner(f.r)
	for sc.Scan() {
		select {
		case f.lines <- sc.Text():
		case <-f.quit:
			return
		}
	}
	f.err = sc.Err()
	if f.err == nil {
		f.err = io.EOF
	}
	close(f.lines)
}

type lineSession struct {
	feed   *lineFeed
	closer io.Closer
	quit   chan struct{}
	once   sync.Once
}

func (s *lineSession) ScanFrame(ctx context.Context, _ Region) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case line, ok := <-s.feed.lines:
		if !ok {
			return "", false, fmt.Errorf("%w: %w", ErrDeviceUnavailable, s.feed.err)
		}
		line = strings.TrimSpace(line)
		return line, line != "", nil
	default:
		return "", false, nil
	}
}

func (s *lineSession) Close() error {
	var err error
	s.once.Do(func() {
		if s.quit != nil {
			close(s.quit)
		}
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
