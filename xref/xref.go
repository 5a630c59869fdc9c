// Package xref models the cross-reference data of a PDF: per-revision
// sections of entries plus their trailers, and the merge that produces the
// unified object index.
package xref

import (
	"sort"

	"github.com/veraPDF/pdfbox/ir/raw"
)

// EntryKind tags the three resolutions an object number can have.
type EntryKind int

const (
	KindFree EntryKind = iota
	KindInUse
	KindCompressed
)

// Entry locates one indirect object: a byte offset for uncompressed
// objects, or the containing object stream for compressed ones.
type Entry struct {
	Kind        EntryKind
	Offset      int64
	StreamNum   int64
	StreamIndex int
}

func Free() Entry                { return Entry{Kind: KindFree} }
func InUse(offset int64) Entry   { return Entry{Kind: KindInUse, Offset: offset} }
func Compressed(streamNum int64, index int) Entry {
	return Entry{Kind: KindCompressed, StreamNum: streamNum, StreamIndex: index}
}

// Type distinguishes classic tables from xref streams.
type Type int

const (
	TypeTable Type = iota
	TypeStream
)

func (t Type) String() string {
	if t == TypeStream {
		return "stream"
	}
	return "table"
}

type section struct {
	startOffset int64
	typ         Type
	trailer     *raw.DictObj
	entries     map[raw.ObjectKey]Entry
}

// Resolver accumulates xref sections in discovery order (the newest
// revision first, following /Prev backwards) and merges them.
type Resolver struct {
	sections []*section
	cur      *section
}

func NewResolver() *Resolver { return &Resolver{} }

// NextSection begins a new xref section found at startOffset.
func (r *Resolver) NextSection(startOffset int64, typ Type) {
	r.cur = &section{
		startOffset: startOffset,
		typ:         typ,
		entries:     make(map[raw.ObjectKey]Entry),
	}
	r.sections = append(r.sections, r.cur)
}

// SetTrailer attaches the trailer dictionary of the current section.
func (r *Resolver) SetTrailer(d *raw.DictObj) {
	if r.cur != nil {
		r.cur.trailer = d
	}
}

// SetEntry records an entry in the current section. Within one section the
// first entry for a key wins; later duplicates are ignored.
func (r *Resolver) SetEntry(key raw.ObjectKey, e Entry) {
	if r.cur == nil {
		return
	}
	if _, exists := r.cur.entries[key]; !exists {
		r.cur.entries[key] = e
	}
}

// SectionCount reports how many sections were discovered.
func (r *Resolver) SectionCount() int { return len(r.sections) }

// Type reports the kind of the section startxref pointed at.
func (r *Resolver) Type() Type {
	if len(r.sections) == 0 {
		return TypeTable
	}
	return r.sections[0].typ
}

// MergedXRef folds all sections oldest-first so that the newest section's
// entry wins for every key. Free entries mask older in-use ones and are
// then dropped from the result.
func (r *Resolver) MergedXRef() map[raw.ObjectKey]Entry {
	out := make(map[raw.ObjectKey]Entry)
	for i := len(r.sections) - 1; i >= 0; i-- {
		for k, e := range r.sections[i].entries {
			out[k] = e
		}
	}
	for k, e := range out {
		if e.Kind == KindFree {
			delete(out, k)
		}
	}
	return out
}

// MergedTrailer folds the chain trailers with the newest value winning;
// keys present only in older trailers are kept.
func (r *Resolver) MergedTrailer() *raw.DictObj {
	merged := raw.Dict()
	for _, s := range r.sections {
		if s.trailer == nil {
			continue
		}
		for _, k := range s.trailer.Keys() {
			if merged.Has(k) {
				continue
			}
			v, _ := s.trailer.Get(k)
			merged.Set(k, v)
		}
	}
	return merged
}

// FirstTrailer is the trailer of the last-discovered section: the oldest
// revision, which in linearized files is the first-page section.
func (r *Resolver) FirstTrailer() *raw.DictObj {
	for i := len(r.sections) - 1; i >= 0; i-- {
		if r.sections[i].trailer != nil {
			return r.sections[i].trailer
		}
	}
	return nil
}

// LastTrailer is the trailer of the first-discovered section, i.e. the
// newest revision at the end of the file.
func (r *Resolver) LastTrailer() *raw.DictObj {
	for _, s := range r.sections {
		if s.trailer != nil {
			return s.trailer
		}
	}
	return nil
}

// Keys returns the live keys of the merged xref in ascending order.
func Keys(m map[raw.ObjectKey]Entry) []raw.ObjectKey {
	out := make([]raw.ObjectKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Num != out[j].Num {
			return out[i].Num < out[j].Num
		}
		return out[i].Gen < out[j].Gen
	})
	return out
}
