package validation

import "github.com/veraPDF/pdfbox/ir/raw"

// ByteRangeStructure records where a signature dictionary's /Contents hex
// string actually sits in the file, so its declared /ByteRange can be
// checked byte-exactly. All offsets are relative to the header offset.
//
// A dictionary counts as a signature when it carries both /Contents and
// /ByteRange and its /Type, if present, is /Sig.
type ByteRangeStructure struct {
	Dict *raw.DictObj

	// contentsBegin, contentsEnd, firstEOF; -1 until known.
	offsets [3]int64

	// Indirect is set when /Contents was an indirect reference and the
	// offsets must be discovered by re-parsing the referenced object.
	Indirect *raw.ObjectKey
}

func NewByteRangeStructure(d *raw.DictObj) *ByteRangeStructure {
	return &ByteRangeStructure{Dict: d, offsets: [3]int64{-1, -1, -1}}
}

func (s *ByteRangeStructure) IsSignature() bool {
	if t, ok := s.Dict.GetName("Type"); ok && t != "Sig" {
		return false
	}
	return s.Dict.Has("Contents") && s.Dict.Has("ByteRange")
}

func (s *ByteRangeStructure) SetContentsBegin(off int64)    { s.offsets[0] = off }
func (s *ByteRangeStructure) SetContentsEnd(off int64)      { s.offsets[1] = off }
func (s *ByteRangeStructure) SetFirstEOF(off int64)         { s.offsets[2] = off }
func (s *ByteRangeStructure) SetIndirect(key raw.ObjectKey) { k := key; s.Indirect = &k }

func (s *ByteRangeStructure) ContentsBegin() int64 { return s.offsets[0] }
func (s *ByteRangeStructure) ContentsEnd() int64   { return s.offsets[1] }
func (s *ByteRangeStructure) FirstEOF() int64      { return s.offsets[2] }

// Calculated reports whether all three offsets are known.
func (s *ByteRangeStructure) Calculated() bool {
	for _, o := range s.offsets {
		if o == -1 {
			return false
		}
	}
	return true
}

// IsValidByteRange compares the declared /ByteRange against the observed
// offsets: [0, contentsBegin, contentsEnd+1, firstEOF-contentsEnd].
func (s *ByteRangeStructure) IsValidByteRange() bool {
	arr, ok := s.Dict.GetArray("ByteRange")
	if !ok || arr.Len() != 4 {
		return false
	}
	want := [4]int64{0, s.offsets[0], s.offsets[1] + 1, s.offsets[2] - s.offsets[1]}
	for i := 0; i < 4; i++ {
		v, ok := arr.Get(i)
		if !ok {
			return false
		}
		n, ok := v.(raw.NumberObj)
		if !ok || !n.IsInt || n.I != want[i] {
			return false
		}
	}
	return true
}
