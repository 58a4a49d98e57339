// Package occ implements the optimistic-concurrency primitive shared by
// every versioned entity: a write carries the version the caller believes is
// current, and is applied atomically only when that still matches.
package occ

import "context"

// VersionNone is the expected-version sentinel meaning "this entry does not
// exist yet". A successful create from VersionNone yields version 0.
const VersionNone int64 = -1

// Accessor binds the primitive to one entity field. ConditionalWrite must be
// atomic in the store (e.g. UPDATE ... WHERE version = expected), never
// read-then-compare-then-write. ReadCurrent returns the authoritative value
// and version, VersionNone when the entry is absent.
type Accessor[V any] struct {
	ConditionalWrite func(ctx context.Context, expected int64, value V) (applied bool, err error)
	ReadCurrent      func(ctx context.Context) (value V, version int64, err error)
}

// Outcome reports a versioned write. Exactly one of the two shapes applies:
// Applied with the new Version, or a mismatch with the true current
// value/version for the client to merge and retry against.
type Outcome[V any] struct {
	Applied        bool
	Version        int64
	CurrentVersion int64
	CurrentValue   V
}

// Update attempts the conditional write and, on a version mismatch, re-reads
// the authoritative current state from the store. The stored version after a
// successful write is always expected+1.
func Update[V any](ctx context.Context, acc Accessor[V], expected int64, value V) (Outcome[V], error) {
	applied, err := acc.ConditionalWrite(ctx, expected, value)
	if err != nil {
		return Outcome[V]{}, err
	}
	if applied {
		return Outcome[V]{Applied: true, Version: expected + 1}, nil
	}
	current, version, err := acc.ReadCurrent(ctx)
	if err != nil {
		return Outcome[V]{}, err
	}
	return Outcome[V]{CurrentVersion: version, CurrentValue: current}, nil
}

// Response is the uniform wire contract for versioned mutations: success
// carries the new version, a conflict carries "version-mismatch" with the
// current value and version verbatim. CurrentValue is a pointer so the
// conflict shape serializes it even when the current value is empty, while
// the success shape omits it entirely.
type Response struct {
	Success        bool   `json:"success"`
	Version        *int64 `json:"version,omitempty"`
	Error          string `json:"error,omitempty"`
	CurrentVersion *int64 `json:"currentVersion,omitempty"`
	CurrentValue   *any   `json:"currentValue,omitempty"`
}

// Response converts the outcome into the wire contract.
func (o Outcome[V]) Response() Response {
	if o.Applied {
		v := o.Version
		return Response{Success: true, Version: &v}
	}
	cv := o.CurrentVersion
	val := any(o.CurrentValue)
	return Response{
		Error:          "version-mismatch",
		CurrentVersion: &cv,
		CurrentValue:   &val,
	}
}
