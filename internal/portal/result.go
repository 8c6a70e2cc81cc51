package portal

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Result is the outcome of every Client operation. Error carries the
// human-readable reason of a failure.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`

	err error
}

// Err returns the underlying error of a failed Result, for errors.Is.
func (r Result[T]) Err() error {
	return r.err
}

// None is the data of operations that return nothing.
type None struct{}

func ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func fail[T any](err error) Result[T] {
	return Result[T]{Error: err.Error(), err: err}
}

// run executes fn and turns its outcome, including a panic, into a Result.
func run[T any](log zerolog.Logger, op string, fn func() (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", op).Interface("panic", r).Msg("operation panicked")
			res = fail[T](fmt.Errorf("%s: internal error: %v", op, r))
		}
	}()

	data, err := fn()
	if err != nil {
		log.Debug().Err(err).Str("op", op).Msg("operation failed")
		return fail[T](err)
	}
	return ok(data)
}
