package fragstore

import "errors"

// Store error types.
var (
	// ErrObjectNotFound is returned when the catalog has no record for an object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectDeleted is returned when reading or referencing a deleted object.
	ErrObjectDeleted = errors.New("object deleted")
	// ErrNotMetadataObject is returned when an operation needs a metadata object.
	ErrNotMetadataObject = errors.New("not a metadata object")
	// ErrObjectTooLarge is returned when data exceeds the configured object size.
	ErrObjectTooLarge = errors.New("object too large")
	// ErrTooManyReferences is returned when a data object has used every reference slot.
	ErrTooManyReferences = errors.New("too many references")
	// ErrInsufficientFragments is returned when fewer than k fragments are readable.
	ErrInsufficientFragments = errors.New("insufficient fragments")
	// ErrHashMismatch is returned when reconstructed data does not match its content hash.
	ErrHashMismatch = errors.New("content hash mismatch")
	// ErrLegalHold is returned when deleting an object that carries a legal hold.
	ErrLegalHold = errors.New("object under legal hold")
	// ErrInvalidBackup is returned for malformed backup streams.
	ErrInvalidBackup = errors.New("invalid backup stream")
)
