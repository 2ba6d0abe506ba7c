// Package inference is the boundary between predictors and the runtime that
// evaluates model files. Predictors never see tensors; they hand decoded
// images to a Session and get a score back.
package inference

import (
	"errors"
	"fmt"
	"image"
)

// Engine loads model files into sessions.
type Engine interface {
	// Load prepares a session over one or more model files. Implementations
	// must not retain the path slice.
	Load(paths ...string) (Session, error)
}

// Session scores images against a loaded model. Score must be safe for
// concurrent use.
type Session interface {
	// Score returns the model's confidence for the given inputs. Image
	// classifiers pass one image; pair classifiers pass the candidate and
	// the reference.
	Score(inputs ...image.Image) (float32, error)
	Close() error
}

type unavailableError struct {
	msg string
}

func (e unavailableError) Error() string { return "inference unavailable: " + e.msg }

// ErrUnavailable constructs the error returned when no runtime is present.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime.
func IsUnavailable(err error) bool {
	var u unavailableError
	return errors.As(err, &u)
}

type unavailableEngine struct {
	reason string
}

// Unavailable returns an Engine that refuses every load. Predictors built on
// it construct into the inactive state.
func Unavailable(reason string) Engine {
	return unavailableEngine{reason: reason}
}

func (e unavailableEngine) Load(paths ...string) (Session, error) {
	return nil, ErrUnavailable(fmt.Sprintf("%s (models: %v)", e.reason, paths))
}

// Func adapts a scoring function to a Session.
type Func func(inputs ...image.Image) (float32, error)

func (f Func) Score(inputs ...image.Image) (float32, error) { return f(inputs...) }

func (f Func) Close() error { return nil }

// EngineFunc adapts a loader function to an Engine.
type EngineFunc func(paths ...string) (Session, error)

func (f EngineFunc) Load(paths ...string) (Session, error) { return f(paths...) }
