package store

import "errors"

// Sentinel errors returned by store operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrClosed indicates the [Store] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("store: closed")

	// ErrFull indicates the log region has no room for another record.
	//
	// Space is never reclaimed. Recovery: export, reopen with a larger
	// [Options.RegionSize], import.
	ErrFull = errors.New("store: full")

	// ErrInvalidInput indicates invalid options or arguments, such as a
	// non power-of-two bucket count or an oversized value.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("store: invalid input")

	// ErrCorrupt indicates an export file that cannot be decoded, or a
	// record chain that points past the written part of the log.
	ErrCorrupt = errors.New("store: corrupt")
)
