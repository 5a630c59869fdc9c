// Package validation collects the PDF/A-1b conformance signals observed
// during validation parsing. Signals default to compliant and are only
// ever flipped when a violation is seen; the parser never alters the
// bytes it judged.
package validation

import "github.com/veraPDF/pdfbox/ir/raw"

// ObjectFlags are the per-object conformance signals (clause 6.1.8) plus
// the per-stream keyword signals (clause 6.1.7).
type ObjectFlags struct {
	HeaderFormatComply   bool // "N G obj" separated by single spaces
	HeaderOfObjectComply bool // EOL before the object header and after "obj"
	EndOfObjectComply    bool // EOL before "endobj"
	StreamKeywordCRLF    bool // "stream" followed by CRLF or LF
	EndstreamKeywordEOL  bool // EOL directly before "endstream"
}

func CompliantFlags() ObjectFlags {
	return ObjectFlags{
		HeaderFormatComply:   true,
		HeaderOfObjectComply: true,
		EndOfObjectComply:    true,
		StreamKeywordCRLF:    true,
		EndstreamKeywordEOL:  true,
	}
}

// Record is the document-level sink.
type Record struct {
	// PostEOFDataSize is the byte count after %%EOF (one trailing EOL
	// excused), or -1 when the marker is absent.
	PostEOFDataSize int64

	// Clause 6.1.4: CR after the xref keyword must pair with LF or be
	// followed directly by a digit.
	XrefEOLMarkersComply bool

	// Clause 6.1.4: subsection headers use exactly one space between
	// the start object number and the count.
	SubsectionHeaderSpaceSeparated bool

	// The four binary-comment bytes of the header's second line, -1
	// each when the comment is missing or too short.
	HeaderCommentBytes [4]int

	HeaderPresent    bool
	StartxrefPresent bool

	objectFlags map[raw.ObjectKey]ObjectFlags
	structures  []*ByteRangeStructure
	goodRanges  []*raw.DictObj
}

func NewRecord() *Record {
	return &Record{
		PostEOFDataSize:                -1,
		XrefEOLMarkersComply:           true,
		SubsectionHeaderSpaceSeparated: true,
		HeaderCommentBytes:             [4]int{-1, -1, -1, -1},
		HeaderPresent:                  true,
		StartxrefPresent:               true,
		objectFlags:                    make(map[raw.ObjectKey]ObjectFlags),
	}
}

func (r *Record) SetObjectFlags(key raw.ObjectKey, f ObjectFlags) {
	if r == nil {
		return
	}
	r.objectFlags[key] = f
}

func (r *Record) ObjectFlags(key raw.ObjectKey) (ObjectFlags, bool) {
	if r == nil {
		return ObjectFlags{}, false
	}
	f, ok := r.objectFlags[key]
	return f, ok
}

func (r *Record) AddStructure(s *ByteRangeStructure) {
	if r != nil {
		r.structures = append(r.structures, s)
	}
}

func (r *Record) Structures() []*ByteRangeStructure {
	if r == nil {
		return nil
	}
	return r.structures
}

func (r *Record) AddGoodByteRange(d *raw.DictObj) {
	if r != nil {
		r.goodRanges = append(r.goodRanges, d)
	}
}

// GoodByteRanges returns the signature dictionaries whose /ByteRange
// matched the offsets observed in the file.
func (r *Record) GoodByteRanges() []*raw.DictObj {
	if r == nil {
		return nil
	}
	return r.goodRanges
}
