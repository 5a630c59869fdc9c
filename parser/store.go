package parser

import (
	"errors"
	"fmt"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/filters"
	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/recovery"
	"github.com/veraPDF/pdfbox/scanner"
	"github.com/veraPDF/pdfbox/validation"
	"github.com/veraPDF/pdfbox/xref"
)

type slotState int

const (
	slotUnparsed slotState = iota
	slotParsing
	slotParsed
	slotNull
	slotBroken
)

// slot is one entry of the object pool. States move strictly forward:
// Unparsed -> Parsing -> Parsed | Null | Broken.
type slot struct {
	key   raw.ObjectKey
	state slotState
	value raw.Object
	flags validation.ObjectFlags
}

func (p *Parser) slotFor(key raw.ObjectKey) *slot {
	if s, ok := p.pool[key]; ok {
		return s
	}
	s := &slot{key: key, state: slotUnparsed, flags: validation.CompliantFlags()}
	p.pool[key] = s
	return s
}

// Resolve returns the value of an indirect object, parsing it on first
// use. Missing keys resolve to null; a slot already being parsed is a
// reference cycle.
func (p *Parser) Resolve(key raw.ObjectKey) (raw.Object, error) {
	s := p.slotFor(key)
	switch s.state {
	case slotParsed:
		return s.value, nil
	case slotNull, slotBroken:
		return raw.Null(), nil
	case slotParsing:
		return nil, fmt.Errorf("%w: reference cycle through %v", ErrMalformedNesting, key)
	}

	p.depth++
	defer func() { p.depth-- }()
	if p.depth > p.cfg.Limits.MaxNestingDepth {
		return nil, fmt.Errorf("%w: resolving %v", ErrMalformedNesting, key)
	}

	s.state = slotParsing
	entry, ok := p.mergedXRef[key]
	if !ok {
		// an undefined object is the null object (PDF 32000, 7.3.10)
		s.state = slotNull
		return raw.Null(), nil
	}

	var err error
	switch entry.Kind {
	case xref.KindInUse:
		err = p.parseFileObject(s, entry.Offset+p.headerOffset)
	case xref.KindCompressed:
		err = p.parseObjectStream(entry.StreamNum)
		if err == nil && s.state == slotParsing {
			// container did not actually carry this object
			s.state = slotNull
		}
	default:
		s.state = slotNull
	}
	if err != nil {
		if p.strict() {
			return nil, err
		}
		p.warn("store", fmt.Errorf("object %v degraded: %v", key, err))
		if s.state == slotParsing {
			s.state = slotBroken
		}
		if p.record != nil {
			p.record.SetObjectFlags(s.key, s.flags)
		}
		return raw.Null(), nil
	}
	if s.state == slotParsing {
		s.state = slotNull
	}
	if p.record != nil {
		p.record.SetObjectFlags(s.key, s.flags)
	}
	if s.state == slotParsed {
		return s.value, nil
	}
	return raw.Null(), nil
}

// parseFileObject parses "N G obj ... endobj" at an absolute offset and
// completes the slot. Validation parsing additionally records the header
// and end-of-object conformance signals.
func (p *Parser) parseFileObject(s *slot, offset int64) error {
	if err := p.c.Seek(offset); err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvedObject, err)
	}
	p.s.SetLocation(recovery.Location{ObjectNum: s.key.Num, ObjectGen: s.key.Gen, Component: "store"})
	defer p.s.SetLocation(recovery.Location{})

	if p.validating() {
		// the byte before the object header must be an end-of-line
		p.c.SkipSpaces()
		if pos := p.c.Position(); pos > 0 {
			p.c.Seek(pos - 1)
			b := p.c.ReadByte()
			if b < 0 || !cursor.IsEOL(byte(b)) {
				s.flags.HeaderOfObjectComply = false
			}
		}
	}

	num, err := p.s.ReadObjectNumber()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvedObject, err)
	}
	if p.validating() {
		if b := p.c.ReadByte(); b != ' ' || p.c.SkipSpaces() > 0 {
			s.flags.HeaderFormatComply = false
		}
	}
	gen, err := p.s.ReadGenerationNumber()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvedObject, err)
	}
	if p.validating() {
		if b := p.c.ReadByte(); b != ' ' || p.c.SkipSpaces() > 0 {
			s.flags.HeaderFormatComply = false
		}
	}
	if err := p.readExpectedKeyword("obj", !p.validating()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvedObject, err)
	}

	if num != s.key.Num || gen != s.key.Gen {
		err := fmt.Errorf("%w: xref for %v points to %d %d obj", ErrUnresolvedObject, s.key, num, gen)
		if p.validating() {
			p.warn("store", err)
			s.state = slotNull
			return nil
		}
		return err
	}

	if p.validating() {
		if b := p.c.Peek(); b < 0 || !cursor.IsEOL(byte(b)) {
			s.flags.HeaderOfObjectComply = false
		}
	}

	tr := newTokenReader(p.s)
	obj, err := p.parseDirObject(tr, 0)
	if err != nil {
		return err
	}

	eolMarker := -1
	if p.validating() {
		p.c.SkipSpaces()
		if pos := p.c.Position(); pos > 0 {
			p.c.Seek(pos - 1)
			eolMarker = p.c.ReadByte()
		}
	}

	tok, err := tr.next()
	if err == nil && tok.Type == scanner.TokenKeyword && tok.Str == "stream" {
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			return fmt.Errorf("%w: stream not preceded by dictionary at offset %d", ErrMalformedObject, offset)
		}
		stream, err := p.parseStream(dict, s)
		if err != nil {
			return err
		}
		if !p.isEncryptionDict(s.key) {
			if derr := p.cfg.Security.DecryptStream(stream, s.key.Num, s.key.Gen); derr != nil {
				return fmt.Errorf("%w: %v", ErrSecurity, derr)
			}
		}
		obj = stream
		if p.validating() {
			p.c.SkipSpaces()
			if pos := p.c.Position(); pos > 0 {
				p.c.Seek(pos - 1)
				eolMarker = p.c.ReadByte()
			}
		}
		tok, err = tr.next()
		// a corrupt second endstream may precede endobj
		if err == nil && tok.Type == scanner.TokenKeyword && tok.Str == "endstream" {
			p.warn("store", errors.New("duplicate endstream before endobj"))
			tok, err = tr.next()
		}
	} else if err == nil && !p.isEncryptionDict(s.key) {
		if derr := p.cfg.Security.Decrypt(obj, s.key.Num, s.key.Gen); derr != nil {
			return fmt.Errorf("%w: %v", ErrSecurity, derr)
		}
	}

	if p.validating() && (eolMarker < 0 || !cursor.IsEOL(byte(eolMarker))) {
		s.flags.EndOfObjectComply = false
	}

	if err != nil || tok.Type != scanner.TokenKeyword || tok.Str != "endobj" {
		msg := fmt.Errorf("object %v does not end with endobj", s.key)
		if p.strict() {
			return fmt.Errorf("%w: %v", ErrMalformedObject, msg)
		}
		p.warn("store", msg)
	} else if p.validating() {
		if b := p.c.Peek(); b < 0 || !cursor.IsEOL(byte(b)) {
			s.flags.EndOfObjectComply = false
		}
	}

	s.value = obj
	s.state = slotParsed
	return nil
}

func (p *Parser) isEncryptionDict(key raw.ObjectKey) bool {
	return p.encryptKey != nil && *p.encryptKey == key
}

// parseObjectStream expands an object stream and completes the slots of
// every contained object the xref points into it.
func (p *Parser) parseObjectStream(containerNum int64) error {
	containerKey := raw.ObjectKey{Num: containerNum, Gen: 0}
	entry, ok := p.mergedXRef[containerKey]
	if !ok || entry.Kind != xref.KindInUse {
		return fmt.Errorf("%w: object stream %d missing or compressed", ErrUnresolvedObject, containerNum)
	}
	containerObj, err := p.Resolve(containerKey)
	if err != nil {
		return err
	}
	st, ok := containerObj.(*raw.StreamObj)
	if !ok {
		return fmt.Errorf("%w: object %d is not a stream", ErrUnresolvedObject, containerNum)
	}

	data := st.RawData()
	if names, params := filters.ForStream(st.Dict); len(names) > 0 {
		pipe := filters.Standard(filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize})
		decoded, err := pipe.Decode(data, names, params)
		if err != nil {
			return fmt.Errorf("%w: object stream %d: %v", ErrBadXref, containerNum, err)
		}
		data = decoded
	}

	n, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	if first < 0 || first > int64(len(data)) {
		return fmt.Errorf("%w: object stream %d /First out of range", ErrBadXref, containerNum)
	}

	// header: N pairs of "objnum offset"
	hc := cursor.NewBytes(data[:first])
	hs := scanner.New(hc, scanner.Config{Mode: p.cfg.Mode, Diags: p.diags, Logger: p.cfg.Logger})
	type located struct {
		num    int64
		offset int64
	}
	var pairs []located
	for int64(len(pairs)) < n {
		objNum, err := hs.ReadLong()
		if err != nil {
			break
		}
		off, err := hs.ReadLong()
		if err != nil {
			break
		}
		pairs = append(pairs, located{num: objNum, offset: off})
	}

	body := data[first:]
	for _, pair := range pairs {
		key := raw.ObjectKey{Num: pair.num, Gen: 0}
		entry, ok := p.mergedXRef[key]
		if !ok || entry.Kind != xref.KindCompressed || entry.StreamNum != containerNum {
			// the xref points this object elsewhere; skip it
			continue
		}
		target := p.slotFor(key)
		if target.state == slotParsed {
			continue
		}
		if pair.offset < 0 || pair.offset > int64(len(body)) {
			p.warn("store", fmt.Errorf("object %d offset out of object stream %d", pair.num, containerNum))
			target.state = slotBroken
			continue
		}
		bc := cursor.NewBytes(body[pair.offset:])
		bs := scanner.New(bc, scanner.Config{Mode: p.cfg.Mode, Diags: p.diags, Logger: p.cfg.Logger})
		obj, err := p.parseCompressedObject(bs)
		if err != nil {
			if p.strict() {
				return err
			}
			p.warn("store", fmt.Errorf("object %d in stream %d: %v", pair.num, containerNum, err))
			target.state = slotBroken
			continue
		}
		target.value = obj
		target.state = slotParsed
		if p.record != nil {
			p.record.SetObjectFlags(key, target.flags)
		}
	}
	return nil
}

// parseCompressedObject parses one direct object from an expanded object
// stream body using a scanner of its own.
func (p *Parser) parseCompressedObject(bs *scanner.Scanner) (raw.Object, error) {
	saved := p.s
	p.s = bs
	savedCursor := p.c
	p.c = bs.Cursor()
	defer func() {
		p.s = saved
		p.c = savedCursor
	}()
	tr := newTokenReader(bs)
	return p.parseDirObject(tr, 0)
}

// resolveStreamLength returns the /Length value, chasing an indirect
// reference with the in-flight set guarding against cycles. The cursor is
// saved and restored around the recursion.
func (p *Parser) resolveStreamLength(dict *raw.DictObj) (int64, bool, error) {
	v, ok := dict.Get("Length")
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case raw.NumberObj:
		if n.IsInt {
			return n.I, true, nil
		}
		return int64(n.Float()), true, nil
	case raw.RefObj:
		if _, busy := p.inFlight[n.Key]; busy {
			return 0, false, fmt.Errorf("%w: /Length cycle through %v", ErrStreamLength, n.Key)
		}
		p.inFlight[n.Key] = struct{}{}
		defer delete(p.inFlight, n.Key)

		saved := p.c.Position()
		obj, err := p.Resolve(n.Key)
		if serr := p.c.Seek(saved); serr != nil {
			return 0, false, serr
		}
		if err != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrStreamLength, err)
		}
		if num, ok := obj.(raw.NumberObj); ok {
			return num.Int(), true, nil
		}
		return 0, false, fmt.Errorf("%w: /Length %v is not numeric", ErrStreamLength, n.Key)
	default:
		return 0, false, nil
	}
}
