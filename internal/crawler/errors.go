package crawler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no record exists for a key.
var ErrNotFound = errors.New("bucket not found")

// ErrBlocked signals that the search engine is blocking automated access and
// the pass was aborted.
var ErrBlocked = errors.New("search blocked by anti-automation challenge")

// BlockedError names the bucket whose query hit the challenge page.
type BlockedError struct {
	Domain   string
	QueryURL string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: domain %s", ErrBlocked, e.Domain)
}

// Unwrap lets errors.Is match ErrBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}

// StorageError wraps a state store failure that halted the pass.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
