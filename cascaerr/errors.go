// Package cascaerr defines the sentinel error kinds surfaced by the engine.
package cascaerr

import "errors"

var (
	// ErrIoError is returned when an async read/write reported failure,
	// or a variable-sized payload was short-written.
	ErrIoError = errors.New("cascadb: io error")

	// ErrCorruptBlock is returned when a block's CRC does not match its
	// stored bytes. The block is dropped by the caller.
	ErrCorruptBlock = errors.New("cascadb: corrupt block")

	// ErrInvalidSuperblock is returned when neither superblock copy can
	// be parsed.
	ErrInvalidSuperblock = errors.New("cascadb: invalid superblock")

	// ErrOutOfMemory is returned when an aligned allocation fails.
	ErrOutOfMemory = errors.New("cascadb: out of memory")

	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("cascadb: engine closed")

	// ErrNotFound is used internally; the public API surfaces it as a
	// boolean "found" flag rather than an error.
	ErrNotFound = errors.New("cascadb: not found")
)
