package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNilFactory     = errors.New("job factory cannot be nil")
	ErrNilJob         = errors.New("job factory returned nil job")
	ErrEmptyTarget    = errors.New("job target application id cannot be empty")
	ErrJobPanicked    = errors.New("job panicked")
	ErrJobCircuitOpen = errors.New("job circuit breaker is open")
)

// SafeCall runs fn and turns a panic into an ErrJobPanicked error
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return fn()
}
