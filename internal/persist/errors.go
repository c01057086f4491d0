package persist

import "fmt"

// ParseError indicates a structurally unreadable envelope or manifest.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownContentTypeError indicates a content block whose type tag is not
// part of the persisted schema. Decoding stops rather than guessing.
type UnknownContentTypeError struct {
	Tag string
}

func (e *UnknownContentTypeError) Error() string {
	return fmt.Sprintf("unknown content block type %q", e.Tag)
}

// BlobNotFoundError indicates a blob reference with no stored object.
type BlobNotFoundError struct {
	Hash string
}

func (e *BlobNotFoundError) Error() string {
	return fmt.Sprintf("blob not found: %s", e.Hash)
}

// IntegrityError indicates stored data that disagrees with itself: a blob
// whose bytes no longer match its hash, a token aggregate that doesn't match
// the per-message sum, or a parent reference to a message that isn't there.
// It is never recovered from internally; the caller decides what to do with
// a corrupted record.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "integrity mismatch: " + e.Reason
}
