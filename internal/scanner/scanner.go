package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gymkaana/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrAlreadyActive     = errors.New("scanner already active")
	ErrAborted           = errors.New("scanner activation aborted")
)

type Facing string

const (
	FacingBack  Facing = "environment"
	FacingFront Facing = "user"
)

// Constraints are passed to the camera when a capture session is requested.
type Constraints struct {
	Facing Facing
}

// Region is the detection box scanned in every frame.
type Region struct {
	Width  int
	Height int
}

// Camera opens capture sessions on a physical or virtual device. Open must
// return soon after ctx is done.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Session, error)
}

// Session is an open capture session. ScanFrame grabs one frame and reports
// whether a code was decoded inside region.
type Session interface {
	ScanFrame(ctx context.Context, region Region) (text string, ok bool, err error)
	Close() error
}

// Handlers receive the outcome of a capture session. At most one of
// OnDecoded and OnError is called, at most once, and only after the session
// has been closed.
type Handlers struct {
	OnDecoded func(text string)
	OnError   func(err error)
	// Admit is consulted under the lifecycle lock before the camera is opened
	// and again before an opened session is kept. Returning false aborts.
	Admit func() bool
}

type Options struct {
	FPS    int
	Region Region
	Facing Facing
}

// Lifecycle owns the camera and guarantees at most one open session.
type Lifecycle struct {
	camera Camera
	opts   Options
	logger *zerolog.Logger

	mu         sync.Mutex
	session    Session
	cancel     context.CancelFunc
	done       chan struct{}
	opening    bool
	abortOpen  bool
	cancelOpen context.CancelFunc
	openDone   chan struct{}
	gen        uint64
}

func NewLifecycle(camera Camera, opts Options, logger *zerolog.Logger) *Lifecycle {
	if opts.FPS <= 0 {
		opts.FPS = 10
	}
	if opts.Region.Width <= 0 || opts.Region.Height <= 0 {
		opts.Region = Region{Width: 250, Height: 250}
	}
	if opts.Facing == "" {
		opts.Facing = FacingBack
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Lifecycle{camera: camera, opts: opts, logger: logger}
}

// Activate opens a capture session and starts decoding. It blocks while the
// camera is being opened (permission prompt, device warm-up); Deactivate
// cancels such an open and Activate then returns ErrAborted.
func (l *Lifecycle) Activate(ctx context.Context, h Handlers) error {
	if l.camera == nil {
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, ErrDeviceUnavailable)
	}

	l.mu.Lock()
	if l.session != nil || l.opening {
		l.mu.Unlock()
		return ErrAlreadyActive
	}
	if !admitted(h) {
		l.mu.Unlock()
		return ErrAborted
	}
	openCtx, cancelOpen := context.WithCancel(ctx)
	defer cancelOpen()
	openDone := make(chan struct{})
	defer close(openDone)
	l.opening = true
	l.abortOpen = false
	l.cancelOpen, l.openDone = cancelOpen, openDone
	l.mu.Unlock()

	sess, err := l.camera.Open(openCtx, Constraints{Facing: l.opts.Facing})

	l.mu.Lock()
	l.opening = false
	l.cancelOpen, l.openDone = nil, nil
	aborted := l.abortOpen || !admitted(h)
	l.abortOpen = false
	if err != nil {
		l.mu.Unlock()
		if aborted {
			return ErrAborted
		}
		l.logger.Warn().Err(err).Msg("camera open failed")
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}
	if aborted {
		l.mu.Unlock()
		l.closeSession(sess)
		return ErrAborted
	}

	l.gen++
	gen := l.gen
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.session, l.cancel, l.done = sess, cancel, done
	l.mu.Unlock()

	metrics.ScannerOpened()
	l.logger.Info().Int("fps", l.opts.FPS).Str("facing", string(l.opts.Facing)).Msg("scanner session opened")

	go l.decodeLoop(loopCtx, sess, gen, done, h)
	return nil
}

func admitted(h Handlers) bool {
	return h.Admit == nil || h.Admit()
}

// Deactivate stops the open session, if any, and waits for the decode loop to
// exit. An open in progress is cancelled and waited for. It is safe to call
// at any time and any number of times.
func (l *Lifecycle) Deactivate() {
	l.mu.Lock()
	if l.session == nil {
		if !l.opening {
			l.mu.Unlock()
			return
		}
		l.abortOpen = true
		l.cancelOpen()
		opened := l.openDone
		l.mu.Unlock()
		<-opened
		return
	}
	sess, cancel, done := l.session, l.cancel, l.done
	l.session, l.cancel, l.done = nil, nil, nil
	l.gen++
	l.mu.Unlock()

	cancel()
	<-done
	l.closeSession(sess)
	metrics.ScannerClosed("stopped")
	l.logger.Info().Msg("scanner session stopped")
}

// Active reports whether a session is open or being opened.
func (l *Lifecycle) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil || l.opening
}

func (l *Lifecycle) decodeLoop(ctx context.Context, sess Session, gen uint64, done chan struct{}, h Handlers) {
	defer close(done)

	limiter := rate.NewLimiter(rate.Limit(l.opts.FPS), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		text, ok, err := sess.ScanFrame(ctx, l.opts.Region)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !l.detach(gen) {
				return
			}
			l.closeSession(sess)
			metrics.ScannerClosed("failed")
			l.logger.Error().Err(err).Msg("scanner decode failed")
			if h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		if !ok {
			continue
		}

		// Stop before handing the text on so a second frame can never fire.
		if !l.detach(gen) {
			l.logger.Debug().Msg("decode discarded, stop in progress")
			return
		}
		l.closeSession(sess)
		metrics.ScannerClosed("decoded")
		if h.OnDecoded != nil {
			h.OnDecoded(text)
		}
		return
	}
}

// detach drops the session owned by generation gen. It returns false when a
// Deactivate already claimed it.
func (l *Lifecycle) detach(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.session == nil {
		return false
	}
	l.cancel()
	l.session, l.cancel, l.done = nil, nil, nil
	return true
}

func (l *Lifecycle) closeSession(sess Session) {
	if err := sess.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("camera close failed, treating as closed")
	}
}
