package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack trace. It
// must be deferred directly:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "manifest watcher")
//	    ...
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger logrus.FieldLogger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}

// MustRecover converts a recovered value into an error, or nil if r is nil:
//
//	defer func() {
//	    if perr := observability.MustRecover(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func MustRecover(r any) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
