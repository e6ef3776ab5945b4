package core

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outcome holds either the value a heuristic produced or the error that
// stopped it. Serialized, a failed outcome becomes {"error": "<message>"} in
// place of the value.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the heuristic succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// Error returns the error text, or "" on success.
func (o Outcome[T]) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func (o Outcome[T]) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return json.Marshal(map[string]string{"error": o.Err.Error()})
	}
	return json.Marshal(o.Value)
}

// ErrPanicked is wrapped by the error Guard returns when fn panics.
var ErrPanicked = errors.New("heuristic panicked")

// Guard runs fn and turns both returned errors and panics into a failed
// Outcome, so one broken heuristic cannot take down its siblings.
func Guard[T any](logger *zap.Logger, name string, fn func() (T, error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Heuristic panicked.", zap.String("heuristic", name), zap.Any("panic", r), zap.Stack("stack"))
			var zero T
			out = Outcome[T]{Value: zero, Err: fmt.Errorf("%s: %w: %v", name, ErrPanicked, r)}
		}
	}()

	value, err := fn()
	if err != nil {
		logger.Warn("Heuristic failed.", zap.String("heuristic", name), zap.Error(err))
		return Outcome[T]{Value: value, Err: err}
	}
	return Outcome[T]{Value: value}
}

// Skipped is the outcome of a heuristic that was turned off.
func Skipped[T any](name string) Outcome[T] {
	return Outcome[T]{Err: fmt.Errorf("%s: %w", name, ErrDisabled)}
}

// ErrDisabled marks heuristics disabled by configuration.
var ErrDisabled = errors.New("disabled by configuration")
