// Package api
// Author: momentics@gmail.com
//
// Completion value delivered on channels by the async facade calls.

package api

// Result carries either a value or an error from one completed operation.
type Result[T any] struct {
	Value T
	Err   error
}

// Unpack returns the pair in the usual Go order.
func (r Result[T]) Unpack() (T, error) { return r.Value, r.Err }
