package observability

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds the time spent running shutdown functions
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs registered shutdown functions, last registered first,
// once a signal arrives or Shutdown is called directly.
type ShutdownManager struct {
	logger          logrus.FieldLogger
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger logrus.FieldLogger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &ShutdownManager{
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// Register adds a named function to call during shutdown
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done, then runs Shutdown
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		sm.logger.Debug("Context done, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()
	return sm.Shutdown(shutdownCtx)
}

// Shutdown runs every registered function in reverse registration order. All
// functions run even if some fail.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	funcs := make([]namedShutdownFunc, len(sm.shutdownFuncs))
	copy(funcs, sm.shutdownFuncs)
	sm.mu.Unlock()

	done := make(chan []error, 1)
	go func() {
		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			if err := f.fn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown of %s failed", f.name)
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
				continue
			}
			sm.logger.Debugf("Shutdown of %s complete", f.name)
		}
		done <- errs
	}()

	select {
	case errs := <-done:
		if len(errs) > 0 {
			return fmt.Errorf("shutdown completed with %d errors: %v", len(errs), errs)
		}
		sm.logger.Debug("Graceful shutdown complete")
		return nil
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached: %w", ctx.Err())
	}
}
