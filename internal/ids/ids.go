// Package ids implements Overseer's polymorphic entity identifiers:
// a fixed type prefix followed by an underscore and a 26-character
// time-sortable ULID token. Identifiers are immutable once minted; the
// prefix must match the entity kind and is checked on parse.
package ids

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefix identifies the kind of entity an ID belongs to.
type Prefix string

const (
	Milestone   Prefix = "ms"
	Task        Prefix = "task"
	Subtask     Prefix = "sub"
	Review      Prefix = "rev"
	Comment     Prefix = "cmt"
	Gate        Prefix = "gate"
	HelpRequest Prefix = "help"
	Learning    Prefix = "lrn"
	Repo        Prefix = "repo"
	Session     Prefix = "sess"
	Harness     Prefix = "harn"
	Event       Prefix = "evt"
)

const tokenLen = 26

// ErrInvalidID is wrapped by every parse failure so callers can test
// with errors.Is without depending on the specific reason.
var ErrInvalidID = errors.New("invalid id")

// New mints a fresh identifier for the given prefix using the current
// time as the ULID's timestamp component, so IDs sort by creation time
// within a node the way spec.md's "token component orders creation
// time monotonically" requires.
func New(p Prefix) string {
	return NewAt(p, time.Now())
}

// NewAt mints an identifier whose token embeds the given time. Exposed
// for tests that need deterministic, ordered fixtures.
func NewAt(p Prefix, t time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(t), rand.Reader)
	return string(p) + "_" + id.String()
}

// Parse splits an identifier into its prefix and validates the token is
// a well-formed ULID of the expected length. It rejects a prefix that is
// not one of the kinds above, but does not check the prefix against any
// particular expected value; use ParseExpect for that.
func Parse(s string) (Prefix, error) {
	idx := strings.IndexByte(s, '_')
	if idx <= 0 || idx == len(s)-1 {
		return "", fmt.Errorf("%w: %q: missing prefix separator", ErrInvalidID, s)
	}
	prefix := Prefix(s[:idx])
	switch prefix {
	case Milestone, Task, Subtask, Review, Comment, Gate, HelpRequest, Learning, Repo, Session, Harness, Event:
	default:
		return "", fmt.Errorf("%w: %q: unknown prefix %q", ErrInvalidID, s, prefix)
	}
	token := s[idx+1:]
	if len(token) != tokenLen {
		return "", fmt.Errorf("%w: %q: token must be %d characters, got %d", ErrInvalidID, s, tokenLen, len(token))
	}
	if _, err := ulid.ParseStrict(token); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	return prefix, nil
}

// ParseExpect validates that s parses and carries exactly the given
// prefix.
func ParseExpect(s string, want Prefix) error {
	got, err := Parse(s)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %q: expected prefix %q, got %q", ErrInvalidID, s, want, got)
	}
	return nil
}

// Valid reports whether s is a well-formed identifier of any prefix.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Time recovers the creation timestamp encoded in an identifier's
// token, useful for tie-breaking and diagnostics without a separate
// created_at read.
func Time(s string) (time.Time, error) {
	idx := strings.IndexByte(s, '_')
	if idx <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	id, err := ulid.ParseStrict(s[idx+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	return ulid.Time(id.Time()), nil
}
