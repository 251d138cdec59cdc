// Package server runs the query API until a signal or context cancellation
// asks it to stop, then drains requests and releases the database.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownManager coordinates signal handling, in-flight request tracking
// and resource cleanup.
type ShutdownManager struct {
	timeout time.Duration

	done     chan struct{}
	once     sync.Once
	inFlight int64
	stopping int32

	// closed in reverse registration order
	closers   []io.Closer
	closersMu sync.Mutex
}

// NewShutdownManager creates a manager that gives in-flight work at most
// timeout to finish. Zero means 30 seconds.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{timeout: timeout, done: make(chan struct{})}
}

// RegisterCloser adds a closer to be called during shutdown.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, c)
}

// ListenForSignals blocks until SIGINT, SIGTERM or ctx cancellation, then shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown("context cancelled")
	case <-sm.done:
		return nil
	}
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every registered closer. Only the first call does any work.
func (sm *ShutdownManager) Shutdown(reason string) error {
	var shutdownErr error
	sm.once.Do(func() {
		log.Printf("server: shutting down: %s", reason)
		atomic.StoreInt32(&sm.stopping, 1)
		close(sm.done)

		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()
		if err := sm.drain(ctx); err != nil {
			shutdownErr = err
		}

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && shutdownErr == nil {
				shutdownErr = fmt.Errorf("close failed: %w", err)
			}
		}
	})
	return shutdownErr
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadInt64(&sm.inFlight) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %d in-flight requests", atomic.LoadInt64(&sm.inFlight))
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a request in. It returns false once shutdown has begun.
func (sm *ShutdownManager) TrackRequest() bool {
	if atomic.LoadInt32(&sm.stopping) == 1 {
		return false
	}
	atomic.AddInt64(&sm.inFlight, 1)
	return true
}

// UntrackRequest counts a request out.
func (sm *ShutdownManager) UntrackRequest() {
	atomic.AddInt64(&sm.inFlight, -1)
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return atomic.LoadInt32(&sm.stopping) == 1
}

// Done is closed when shutdown begins.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// Middleware rejects requests with 503 once shutdown has begun and tracks
// the rest as in flight.
func (sm *ShutdownManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sm.TrackRequest() {
			w.Header().Set("Connection", "close")
			http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
			return
		}
		defer sm.UntrackRequest()
		next.ServeHTTP(w, r)
	})
}

// Serve runs srv until shutdown begins or the listener fails. The server is
// registered as a closer so Shutdown stops it gracefully.
func (sm *ShutdownManager) Serve(srv *http.Server) error {
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sm.done:
		return <-errCh
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
