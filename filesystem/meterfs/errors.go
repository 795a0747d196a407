package meterfs

import "errors"

// Error taxonomy from spec §7. Every fallible operation returns one of
// these, wrapped with context via fmt.Errorf("...: %w", ...); callers
// should match with errors.Is.
var (
	// ErrIOError means the block device signalled failure; the operation
	// was aborted and state is unchanged except for partial writes, which
	// are idempotent under retry.
	ErrIOError = errors.New("meterfs: device I/O error")

	// ErrCorruptHeader means the live header region's file table is
	// inconsistent (two files claim the same data sector). Mount does not
	// return it: when both header regions are invalid it formats instead.
	ErrCorruptHeader = errors.New("meterfs: header is corrupt")

	// ErrCorruptRecord means an entry id or MAC mismatch; the record is
	// treated as absent, never repaired in place.
	ErrCorruptRecord = errors.New("meterfs: record is corrupt")

	// ErrNotFound means an unknown name, descriptor id, or record index.
	ErrNotFound = errors.New("meterfs: not found")

	// ErrAlreadyExists means a duplicate file name on allocate.
	ErrAlreadyExists = errors.New("meterfs: file already exists")

	// ErrInvalid means an argument was out of range.
	ErrInvalid = errors.New("meterfs: invalid argument")

	// ErrNoSpace means there were not enough free sectors, or MAX_FILE_CNT
	// was reached.
	ErrNoSpace = errors.New("meterfs: no space")

	// ErrBusy means a descriptor is still referenced when destruction was
	// attempted.
	ErrBusy = errors.New("meterfs: descriptor busy")
)
