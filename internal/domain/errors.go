package domain

import (
	"errors"
	"fmt"
)

// FetchError is any failure talking to the Notion API: transport errors,
// non-2xx responses, or an undecodable body. Transient is decided where the
// error is raised so callers never have to pattern-match messages.
type FetchError struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notion api: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("notion api: %s", e.Message)
}

// IsTransient reports whether err wraps a FetchError worth retrying.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
