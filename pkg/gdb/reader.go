package gdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"
)

const (
	readChunkSize      = 4096
	lineQueueInitCap   = 64
	maxTransientErrors = 100
)

// Reader drains a debugger's output into an ordered, unbounded queue of
// lines. It is the only goroutine reading the process output and it never
// touches session state; consumers read Lines().
//
// A line is emitted at every newline, and also when buffered text without a
// newline ends with the prompt token, since the debugger prints its prompt
// and then waits for input.
type Reader struct {
	queue  *chanx.UnboundedChan[string]
	prompt string
	cancel context.CancelFunc
	done   chan struct{}
	eof    atomic.Bool
	log    logr.Logger

	errLock sync.Mutex
	err     error
}

// NewReader starts reading src on a new goroutine
func NewReader(ctx context.Context, src io.Reader, prompt string, log logr.Logger) *Reader {
	readerCtx, cancel := context.WithCancel(ctx)
	r := &Reader{
		queue:  chanx.NewUnboundedChan[string](readerCtx, lineQueueInitCap),
		prompt: prompt,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log.WithName("reader"),
	}
	go r.run(readerCtx, src)
	return r
}

// Lines returns the queue of output lines. It is closed once the output
// reaches end-of-file and every line has been delivered, or when the reader
// is stopped.
func (r *Reader) Lines() <-chan string {
	return r.queue.Out
}

// Done is closed when the read loop has exited
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// EOF reports whether the output stream has ended
func (r *Reader) EOF() bool {
	return r.eof.Load()
}

// Err returns the unrecoverable stream error that ended the read loop, if any
func (r *Reader) Err() error {
	r.errLock.Lock()
	defer r.errLock.Unlock()
	return r.err
}

// Stop signals the read loop to exit and waits up to timeout for it to do so.
// A read already blocked in the source is not interrupted, so the loop only
// observes the signal once that read returns.
func (r *Reader) Stop(timeout time.Duration) bool {
	r.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return true
	case <-timer.C:
		r.log.Info("Output reader did not stop in time", "Timeout", timeout)
		return false
	}
}

func (r *Reader) run(ctx context.Context, src io.Reader) {
	defer close(r.done)
	defer close(r.queue.In)
	defer r.eof.Store(true)

	buf := make([]byte, readChunkSize)
	var pending []byte
	transientErrors := 0

	for ctx.Err() == nil {
		n, err := src.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var ok bool
			if pending, ok = r.emitLines(ctx, pending); !ok {
				return
			}
		}

		if err == nil {
			transientErrors = 0
			continue
		}

		if isEndOfStream(err) {
			if rest := strings.TrimSpace(string(pending)); rest != "" {
				r.push(ctx, sanitize(rest))
			}
			r.log.V(1).Info("Debugger output reached end of stream")
			return
		}

		if isTransient(err) && transientErrors < maxTransientErrors {
			transientErrors++
			r.log.V(1).Info("Transient error reading debugger output", "Error", err.Error())
			continue
		}

		r.errLock.Lock()
		r.err = err
		r.errLock.Unlock()
		r.log.Error(err, "Unrecoverable error reading debugger output")
		return
	}
}

// emitLines pushes every complete line in pending and returns what is left
func (r *Reader) emitLines(ctx context.Context, pending []byte) ([]byte, bool) {
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(pending[:i]))
		pending = pending[i+1:]
		if line == "" {
			continue
		}
		if !r.push(ctx, sanitize(line)) {
			return nil, false
		}
	}

	if r.prompt != "" && len(pending) > 0 {
		rest := strings.TrimSpace(string(pending))
		if strings.HasSuffix(rest, r.prompt) {
			if !r.push(ctx, sanitize(rest)) {
				return nil, false
			}
			pending = pending[:0]
		}
	}

	return pending, true
}

func (r *Reader) push(ctx context.Context, line string) bool {
	select {
	case r.queue.In <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

func sanitize(line string) string {
	line = strings.TrimSuffix(line, "\r")
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "?")
	}
	return line
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

func isTransient(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrNoProgress)
}
