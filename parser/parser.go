// Package parser implements the PDF object/xref layer: it locates the
// header and xref chain, builds the unified object index, and parses
// indirect objects on demand. Recovery behavior is governed by a single
// recovery.Mode; validation parsing additionally records PDF/A-1b
// conformance signals without ever altering the bytes it judged.
package parser

import (
	"fmt"
	"io"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/observability"
	"github.com/veraPDF/pdfbox/recovery"
	"github.com/veraPDF/pdfbox/scanner"
	"github.com/veraPDF/pdfbox/security"
	"github.com/veraPDF/pdfbox/validation"
	"github.com/veraPDF/pdfbox/xref"
)

const linearizationProbeSize = 1024

// Parser owns the cursor and all parse state for one document. It is not
// safe for concurrent use; callers wanting parallelism open one parser per
// RandomAccessRead.
type Parser struct {
	c   *cursor.Cursor
	s   *scanner.Scanner
	cfg Config

	diags    *recovery.Diagnostics
	record   *validation.Record
	resolver *xref.Resolver

	headerOffset int64
	version      float32
	startXref    int64

	mergedXRef map[raw.ObjectKey]xref.Entry
	trailer    *raw.DictObj

	pool       map[raw.ObjectKey]*slot
	inFlight   map[raw.ObjectKey]struct{}
	depth      int
	encryptKey *raw.ObjectKey
	encrypted  bool

	bfObjects map[raw.ObjectKey]int64
	bfTables  []int64
	bfStreams []int64
}

// Parse reads a document from r. size must be the total byte length.
func Parse(r cursor.ReaderAt, size int64, cfg Config) (*Document, error) {
	cfg = cfg.normalized()
	p := &Parser{
		c:        cursor.New(r, size),
		cfg:      cfg,
		diags:    &recovery.Diagnostics{},
		resolver: xref.NewResolver(),
		pool:     make(map[raw.ObjectKey]*slot),
		inFlight: make(map[raw.ObjectKey]struct{}),
	}
	if cfg.Mode.RecordDiagnostics {
		p.record = validation.NewRecord()
	}
	p.s = scanner.New(p.c, scanner.Config{
		Mode:            cfg.Mode,
		MaxStringLength: cfg.Limits.MaxStringLength,
		Diags:           p.diags,
		Logger:          cfg.Logger,
	})
	return p.parse()
}

// ParseBytes parses an in-memory document.
func ParseBytes(data []byte, cfg Config) (*Document, error) {
	return Parse(bytesReaderAt(data), int64(len(data)), cfg)
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if off+int64(n) >= int64(len(b)) {
		return n, io.EOF
	}
	return n, nil
}

func (p *Parser) strict() bool     { return p.cfg.Mode.IsStrict() }
func (p *Parser) validating() bool { return p.record != nil }

func (p *Parser) warn(component string, err error) {
	p.diags.Add(recovery.Location{ByteOffset: p.c.Position(), Component: component}, err)
	p.cfg.Logger.Warn("parse recovery",
		observability.String("component", component),
		observability.Int64("offset", p.c.Position()),
		observability.Error("err", err))
}

func (p *Parser) parse() (*Document, error) {
	if err := p.parseHeader(); err != nil {
		return nil, err
	}

	startXref, err := p.locateStartxref()
	if err != nil {
		return nil, err
	}
	if startXref >= 0 {
		p.startXref = startXref
		if err := p.parseXrefChain(startXref); err != nil {
			return nil, err
		}
	} else if !p.strict() {
		if err := p.rebuildTrailer(); err != nil {
			return nil, err
		}
	} else {
		return nil, ErrMissingStartxref
	}

	if p.mergedXRef == nil {
		p.mergedXRef = p.resolver.MergedXRef()
	}
	if p.trailer == nil {
		p.trailer = p.resolver.MergedTrailer()
	}
	if err := p.checkXrefOffsets(); err != nil {
		return nil, err
	}

	if _, ok := p.trailer.Get("Root"); !ok {
		if p.strict() {
			return nil, ErrMissingRoot
		}
		if err := p.rebuildTrailer(); err != nil {
			return nil, err
		}
		if _, ok := p.trailer.Get("Root"); !ok {
			return nil, ErrMissingRoot
		}
	}

	perm, err := p.prepareDecryption()
	if err != nil {
		return nil, err
	}

	if err := p.prewarm(); err != nil {
		return nil, err
	}

	linearized := p.checkLinearization()

	if p.validating() {
		p.processByteRangeStructures()
	}

	doc := &Document{
		p:                p,
		Version:          p.version,
		HeaderOffset:     p.headerOffset,
		IsEncrypted:      p.encrypted,
		IsLinearized:     linearized,
		IsXRefStream:     p.resolver.Type() == xref.TypeStream,
		StartXref:        p.startXref,
		Trailer:          p.trailer,
		FirstPageTrailer: p.resolver.FirstTrailer(),
		LastTrailer:      p.resolver.LastTrailer(),
		XRef:             p.mergedXRef,
		AccessPermission: perm,
		Validation:       p.record,
	}
	if p.record != nil {
		doc.PostEOFDataSize = p.record.PostEOFDataSize
	} else {
		doc.PostEOFDataSize = -1
	}
	return doc, nil
}

// prepareDecryption resolves the trailer's /Encrypt dictionary and hands
// it to the security handler together with the first document ID string.
func (p *Parser) prepareDecryption() (security.AccessPermission, error) {
	encObj, ok := p.trailer.Get("Encrypt")
	if !ok {
		return security.AllPermissions(), nil
	}
	if _, isNull := encObj.(raw.NullObj); isNull {
		return security.AllPermissions(), nil
	}

	var encDict *raw.DictObj
	switch v := encObj.(type) {
	case *raw.DictObj:
		encDict = v
	case raw.RefObj:
		k := v.Key
		p.encryptKey = &k
		obj, err := p.Resolve(v.Key)
		if err != nil {
			return security.AccessPermission{}, fmt.Errorf("%w: %v", ErrSecurity, err)
		}
		encDict, _ = obj.(*raw.DictObj)
	}
	if encDict == nil {
		return security.AccessPermission{}, fmt.Errorf("%w: /Encrypt is not a dictionary", ErrSecurity)
	}

	var docID []byte
	if arr, ok := p.trailer.GetArray("ID"); ok && arr.Len() > 0 {
		if s, ok := arr.Items[0].(raw.StringObj); ok {
			docID = s.Bytes
		}
	}

	material := p.cfg.Material
	if material == nil {
		material = security.StandardMaterial{}
	}
	if err := p.cfg.Security.PrepareForDecryption(encDict, docID, material); err != nil {
		return security.AccessPermission{}, fmt.Errorf("%w: %v", ErrSecurity, err)
	}
	p.encrypted = true
	return p.cfg.Security.CurrentAccessPermission(), nil
}

// prewarm populates the object pool. Validation parsing resolves every
// xref'd object so per-object conformance flags exist for all of them;
// other modes only chase the trailer values.
func (p *Parser) prewarm() error {
	if p.validating() {
		for _, key := range xref.Keys(p.mergedXRef) {
			if _, err := p.Resolve(key); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range []string{"Root", "Info"} {
		v, ok := p.trailer.Get(name)
		if !ok {
			continue
		}
		ref, ok := v.(raw.RefObj)
		if !ok {
			continue
		}
		if _, err := p.Resolve(ref.Key); err != nil {
			if p.strict() {
				return err
			}
			p.warn("store", fmt.Errorf("cannot resolve trailer /%s: %v", name, err))
		}
	}
	return nil
}

// checkLinearization parses the first object within the leading bytes of
// the file and reports whether it is a linearization dictionary.
func (p *Parser) checkLinearization() bool {
	saved := p.c.Position()
	defer p.c.Seek(saved)

	limit := p.headerOffset + linearizationProbeSize
	if limit > p.c.Length() {
		limit = p.c.Length()
	}
	for off := p.headerOffset; off < limit; off++ {
		p.c.Seek(off)
		if !p.isStringAt([]byte(" obj")) {
			continue
		}
		// walk forward past "N G obj" from the nearest digit run start
		hdr := p.findObjHeaderStart(off)
		if hdr < 0 {
			return false
		}
		p.c.Seek(hdr)
		if _, err := p.s.ReadObjectNumber(); err != nil {
			return false
		}
		if _, err := p.s.ReadGenerationNumber(); err != nil {
			return false
		}
		if err := p.readExpectedKeyword("obj", true); err != nil {
			return false
		}
		tr := newTokenReader(p.s)
		obj, err := p.parseDirObject(tr, 0)
		if err != nil {
			return false
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok || !dict.Has("Linearized") {
			return false
		}
		// the /L entry must name the real file length; a junk prefix
		// shifts every byte count, so only check untranslated files
		if p.headerOffset == 0 {
			if l, ok := dict.GetInt("L"); ok && l != p.c.Length() {
				return false
			}
		}
		return true
	}
	return false
}

// findObjHeaderStart walks backward from the " obj" match to the start of
// the object number, mirroring the brute-force header scan.
func (p *Parser) findObjHeaderStart(objMatch int64) int64 {
	pos := objMatch - 1
	if pos <= p.headerOffset {
		return -1
	}
	p.c.Seek(pos)
	if b := p.c.Peek(); b < 0 || !cursor.IsDigit(byte(b)) {
		return -1
	}
	pos--
	p.c.Seek(pos)
	if b := p.c.Peek(); b < 0 || !cursor.IsSpace(byte(b)) {
		return -1
	}
	for pos > p.headerOffset {
		p.c.Seek(pos - 1)
		if b := p.c.Peek(); b >= 0 && cursor.IsSpace(byte(b)) {
			pos--
			continue
		}
		break
	}
	digits := 0
	for pos > p.headerOffset {
		p.c.Seek(pos - 1)
		if b := p.c.Peek(); b >= 0 && cursor.IsDigit(byte(b)) {
			pos--
			digits++
			continue
		}
		break
	}
	if digits == 0 {
		return -1
	}
	return pos
}
