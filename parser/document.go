package parser

import (
	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/recovery"
	"github.com/veraPDF/pdfbox/security"
	"github.com/veraPDF/pdfbox/validation"
	"github.com/veraPDF/pdfbox/xref"
)

// Document is the parsed result. Objects stay lazy: Resolve parses them
// on first use through the parser's object pool.
type Document struct {
	p *Parser

	Version      float32
	HeaderOffset int64
	IsEncrypted  bool
	IsLinearized bool
	IsXRefStream bool
	StartXref    int64

	// PostEOFDataSize is only computed during validation parsing; it
	// stays -1 otherwise.
	PostEOFDataSize int64

	Trailer          *raw.DictObj
	FirstPageTrailer *raw.DictObj
	LastTrailer      *raw.DictObj

	XRef map[raw.ObjectKey]xref.Entry

	AccessPermission security.AccessPermission

	// Validation carries the conformance signals; nil unless the
	// document was parsed in validation mode.
	Validation *validation.Record
}

// Resolve returns the value of the referenced object, or null for keys
// the document does not define. Broken objects also resolve to null.
func (d *Document) Resolve(key raw.ObjectKey) (raw.Object, error) {
	return d.p.Resolve(key)
}

// ResolveObject follows a reference chain until a non-reference value.
func (d *Document) ResolveObject(obj raw.Object) (raw.Object, error) {
	for i := 0; i < d.p.cfg.Limits.MaxNestingDepth; i++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		var err error
		obj, err = d.Resolve(ref.Key)
		if err != nil {
			return nil, err
		}
	}
	return nil, ErrMalformedNesting
}

// ObjectsByType returns the keys of every object whose value is a
// dictionary with the given /Type.
func (d *Document) ObjectsByType(typeName string) ([]raw.ObjectKey, error) {
	var out []raw.ObjectKey
	for _, key := range xref.Keys(d.XRef) {
		obj, err := d.Resolve(key)
		if err != nil {
			return nil, err
		}
		var dict *raw.DictObj
		switch v := obj.(type) {
		case *raw.DictObj:
			dict = v
		case *raw.StreamObj:
			dict = v.Dict
		default:
			continue
		}
		if t, ok := dict.GetName("Type"); ok && t == typeName {
			out = append(out, key)
		}
	}
	return out, nil
}

// Diagnostics lists the non-fatal problems recovered from while parsing.
func (d *Document) Diagnostics() []recovery.Diagnostic {
	return d.p.diags.All()
}

// Close releases every stream payload via the scratch space.
func (d *Document) Close() error {
	return d.p.cfg.Scratch.Close()
}
