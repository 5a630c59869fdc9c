// Package recovery defines how the parser reacts to malformed input.
//
// A single Mode value carries three orthogonal knobs instead of separate
// lenient/strict/validation code paths: whether bad xref offsets may be
// repaired, whether conformance diagnostics are recorded, and whether
// mismatched entries are dropped rather than patched.
package recovery

import "fmt"

type Mode struct {
	// RecoverBadOffsets enables brute-force repair when xref offsets do
	// not resolve to the expected object header.
	RecoverBadOffsets bool

	// RecordDiagnostics enables the fine-grained conformance signals
	// collected during validation parsing.
	RecordDiagnostics bool

	// DropInsteadOfReplace drops xref entries with bad offsets instead
	// of replacing them with brute-force results.
	DropInsteadOfReplace bool
}

// Lenient is the default mode: all repair heuristics, no diagnostics.
func Lenient() Mode {
	return Mode{RecoverBadOffsets: true}
}

// Strict disables every recovery path; malformed sections are fatal.
func Strict() Mode {
	return Mode{}
}

// Validation keeps lenient recovery but records conformance diagnostics
// and drops (rather than patches) entries with mismatched offsets.
func Validation() Mode {
	return Mode{RecoverBadOffsets: true, RecordDiagnostics: true, DropInsteadOfReplace: true}
}

func (m Mode) IsStrict() bool { return !m.RecoverBadOffsets }

// Location identifies where in the file a problem was observed.
type Location struct {
	ByteOffset int64
	ObjectNum  int64
	ObjectGen  int
	Component  string
}

// Diagnostic is one non-fatal problem observed while parsing.
type Diagnostic struct {
	Location Location
	Err      error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("[%s] offset %d: %v", d.Location.Component, d.Location.ByteOffset, d.Err)
}

// Diagnostics accumulates non-fatal problems for the caller.
type Diagnostics struct {
	entries []Diagnostic
}

func (d *Diagnostics) Add(loc Location, err error) {
	if d == nil {
		return
	}
	d.entries = append(d.entries, Diagnostic{Location: loc, Err: err})
}

func (d *Diagnostics) All() []Diagnostic {
	if d == nil {
		return nil
	}
	return d.entries
}

func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}
