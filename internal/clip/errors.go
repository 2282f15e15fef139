package clip

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies harvest failures so callers can tell phase-fatal from item-fatal from skippable.
type Kind int

// Failure kinds. The set is closed.
const (
	KindUnknown Kind = iota
	// KindParse means a document did not match its extraction grammar. Fatal to the phase.
	KindParse
	// KindRow means one malformed row inside a well-formed document. The row is skipped.
	KindRow
	// KindConsistency means an identity field differs from the stored record under the same key.
	KindConsistency
	// KindUnknownReference means a foreign key could not be resolved.
	KindUnknownReference
	// KindTransport means a fetch failed after the session retry.
	KindTransport
	// KindPersistence means a backend write or commit failed.
	KindPersistence
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindParse:            "parse",
	KindRow:              "row",
	KindConsistency:      "consistency",
	KindUnknownReference: "unknown_reference",
	KindTransport:        "transport",
	KindPersistence:      "persistence",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type produced by the harvester packages.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	URL    string
	// Stored and Incoming are set for consistency failures.
	Stored   any
	Incoming any
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
	}
	if e.Kind == KindConsistency && (e.Stored != nil || e.Incoming != nil) {
		fmt.Fprintf(&b, " (stored %v, incoming %v)", e.Stored, e.Incoming)
	}
	if e.URL != "" {
		b.WriteString(" at ")
		b.WriteString(e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PhaseFatal reports whether the failure should stop the whole phase.
func (e *Error) PhaseFatal() bool {
	return e.Kind == KindParse
}

// Retryable reports whether a later attempt at the same item may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindPersistence
}

// KindOf extracts the failure kind from err. Errors outside the taxonomy are KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PhaseFatal reports whether err should abort the enclosing phase.
func PhaseFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.PhaseFatal()
}

// ParseError reports a grammar mismatch for the document at url.
func ParseError(op, url string, format string, args ...any) *Error {
	return &Error{Kind: KindParse, Op: op, URL: url, Err: fmt.Errorf(format, args...)}
}

// RowError reports a malformed row.
func RowError(op string, format string, args ...any) *Error {
	return &Error{Kind: KindRow, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConsistencyError reports an identity collision between a stored and an incoming record.
func ConsistencyError(op, entity string, stored, incoming any) *Error {
	return &Error{Kind: KindConsistency, Op: op, Entity: entity, Stored: stored, Incoming: incoming}
}

// UnknownReferenceError reports a foreign key that is neither cached nor stored.
func UnknownReferenceError(op, entity, ref string) *Error {
	return &Error{Kind: KindUnknownReference, Op: op, Entity: entity, Err: fmt.Errorf("unresolved reference %q", ref)}
}

// TransportError wraps a fetch failure.
func TransportError(op, url string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, URL: url, Err: err}
}

// PersistenceError wraps a backend failure.
func PersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}
