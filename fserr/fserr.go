// Package fserr defines the error taxonomy of the filesystem core.
//
// Every failure the core can report is one of the sentinel values
// below, so callers can match a specific condition with errors.Is or a
// whole family with CategoryOf. Errors carry no dynamic state; context
// is added by wrapping with %w where useful.
package fserr

import "errors"

// Category is the coarse discriminant of an error kind. Callers that
// do not care about the precise condition match at this level.
type Category uint8

const (
	// CategoryArgument: rejected construction or call arguments; no
	// state was mutated.
	CategoryArgument Category = iota + 1
	// CategoryIO: a device transfer moved fewer bytes than requested;
	// fatal for the affected buffer or cluster.
	CategoryIO
	// CategoryCorruption: on-disk invariants are violated; aborts the
	// mount and is never locally recoverable.
	CategoryCorruption
	// CategoryNamespace: a path or inode operation failed; other
	// operations are unaffected.
	CategoryNamespace
	// CategoryCapacity: an allocation could not be satisfied; the
	// filesystem stays usable for operations that need no new clusters.
	CategoryCapacity
)

func (c Category) String() string {
	switch c {
	case CategoryArgument:
		return "argument"
	case CategoryIO:
		return "io"
	case CategoryCorruption:
		return "corruption"
	case CategoryNamespace:
		return "namespace"
	case CategoryCapacity:
		return "capacity"
	}
	return "unknown"
}

// Error is one kind in the taxonomy.
type Error struct {
	Category Category
	msg      string
}

func (e *Error) Error() string {
	return e.msg
}

// CategoryOf returns the category of err, unwrapping as needed, or 0
// if err is not part of the taxonomy.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return 0
}

var (
	// Buffer construction.
	ErrAlignmentNotPowerOfTwo = &Error{CategoryArgument, "alignment is not a power of 2"}
	ErrSizeNotAligned         = &Error{CategoryArgument, "max size is not aligned"}
	ErrOffsetNotAligned       = &Error{CategoryArgument, "cluster begin offset is not aligned"}
	ErrSizeTooBig             = &Error{CategoryArgument, "max size is too big"}

	// Device transfers.
	ErrPartialWrite       = &Error{CategoryIO, "partial write"}
	ErrPartialClusterRead = &Error{CategoryIO, "failed to read whole cluster of the metadata log"}

	// Bootstrap.
	ErrAlreadyBootstrapped = &Error{CategoryCorruption, "cannot bootstrap already bootstrapped metadata log"}
	ErrInvalidEntry        = &Error{CategoryCorruption, "invalid metadata log entry"}
	ErrLogOverlap          = &Error{CategoryCorruption, "metadata log and data log use the same cluster"}

	// Namespace.
	ErrInvalidInode      = &Error{CategoryNamespace, "invalid inode"}
	ErrFileExists        = &Error{CategoryNamespace, "file already exists"}
	ErrNotDirectory      = &Error{CategoryNamespace, "a component used as a directory is not a directory"}
	ErrIsDirectory       = &Error{CategoryNamespace, "is a directory"}
	ErrDirectoryNotEmpty = &Error{CategoryNamespace, "directory is not empty"}
	ErrCannotModifyRoot  = &Error{CategoryNamespace, "cannot modify the root"}
	ErrWrongShard        = &Error{CategoryNamespace, "file used on unintended shard"}
	ErrFilenameTooLong   = &Error{CategoryNamespace, "filename too long"}
	ErrNoSuchFile        = &Error{CategoryNamespace, "no such file or directory"}
	ErrPathNotAbsolute   = &Error{CategoryNamespace, "path is not absolute"}
	ErrInvalidPath       = &Error{CategoryNamespace, "path is invalid"}

	// Capacity.
	ErrTooLittleClusters   = &Error{CategoryCapacity, "too little available clusters"}
	ErrInvalidClusterRange = &Error{CategoryCapacity, "invalid cluster range"}
	ErrNoMoreSpace         = &Error{CategoryCapacity, "no more space on device"}
	ErrClusterTooSmall     = &Error{CategoryCapacity, "cluster size is too small to perform operation"}
)
