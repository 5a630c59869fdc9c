package parser

import (
	"errors"
	"fmt"
	"io"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/scanner"
	"github.com/veraPDF/pdfbox/validation"
)

// tokenReader adds pushback on top of the scanner for the grammar's
// one-token lookahead.
type tokenReader struct {
	s   *scanner.Scanner
	buf []scanner.Token
}

func newTokenReader(s *scanner.Scanner) *tokenReader { return &tokenReader{s: s} }

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// parseDirObject builds one direct object from the token stream. It never
// resolves indirect references; those stay raw.RefObj leaves.
func (p *Parser) parseDirObject(tr *tokenReader, depth int) (raw.Object, error) {
	if depth > p.cfg.Limits.MaxNestingDepth {
		return nil, ErrMalformedNesting
	}
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenDict:
		return p.parseDictBody(tr, depth+1)
	case scanner.TokenArray:
		return p.parseArrayBody(tr, depth+1)
	case scanner.TokenName:
		return raw.Name(tok.Str), nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.Int(tok.Int), nil
		}
		return raw.Real(tok.Float), nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.Null(), nil
	case scanner.TokenString:
		return stringFromToken(tok), nil
	case scanner.TokenRef:
		return raw.Ref(tok.Num, tok.Gen), nil
	case scanner.TokenKeyword:
		tr.unread(tok)
		return nil, fmt.Errorf("%w: unexpected keyword %q at offset %d", ErrMalformedObject, tok.Str, tok.Pos)
	}
	return nil, fmt.Errorf("%w: unexpected token at offset %d", ErrMalformedObject, tok.Pos)
}

func stringFromToken(tok scanner.Token) raw.StringObj {
	s := raw.StringObj{Bytes: tok.Bytes}
	if tok.Hex {
		s.Kind = raw.StringHex
		s.HexCount = tok.HexCount
		s.HexOnly = tok.HexOnly
	}
	return s
}

func (p *Parser) parseDictBody(tr *tokenReader, depth int) (raw.Object, error) {
	d := raw.Dict()
	var structure *validation.ByteRangeStructure
	if p.record != nil {
		structure = validation.NewByteRangeStructure(d)
	}
	for {
		tok, err := tr.next()
		if err != nil {
			if errors.Is(err, io.EOF) && !p.strict() {
				p.warn("grammar", errors.New("unexpected end of file in dictionary"))
				break
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			break
		}
		if tok.Type != scanner.TokenName {
			if tok.Type == scanner.TokenKeyword && (tok.Str == "endobj" || tok.Str == "endstream") {
				err := fmt.Errorf("unexpected %q in dictionary (missing >>?)", tok.Str)
				if p.strict() {
					return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
				}
				p.warn("grammar", err)
				tr.unread(tok)
				break
			}
			if p.strict() {
				return nil, fmt.Errorf("%w: expected name in dictionary at offset %d", ErrMalformedObject, tok.Pos)
			}
			p.warn("grammar", fmt.Errorf("expected name in dictionary at offset %d", tok.Pos))
			if p.skipToDictBoundary() {
				break
			}
			continue
		}
		key := tok.Str

		var val raw.Object
		if structure != nil && key == "Contents" {
			val, err = p.parseSignatureValue(tr, depth, structure)
		} else {
			val, err = p.parseDirObject(tr, depth)
		}
		if err != nil {
			if p.strict() {
				return nil, err
			}
			p.warn("grammar", fmt.Errorf("dropping value for /%s: %v", key, err))
			continue
		}

		// content-stream dictionaries may carry a trailing "def"
		if t, err := tr.next(); err == nil {
			if !(t.Type == scanner.TokenKeyword && t.Str == "def") {
				tr.unread(t)
			}
		}

		if d.Set(key, val) {
			p.warn("grammar", fmt.Errorf("duplicate dictionary key /%s, keeping latest", key))
		}
	}
	if structure != nil && structure.IsSignature() {
		eof := p.offsetOfNextEOF(p.c.Position())
		structure.SetFirstEOF(eof - p.headerOffset)
		p.record.AddStructure(structure)
	}
	return d, nil
}

// parseSignatureValue parses a /Contents value while recording where its
// token sits in the file, or the referenced key when indirect.
func (p *Parser) parseSignatureValue(tr *tokenReader, depth int, structure *validation.ByteRangeStructure) (raw.Object, error) {
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenString:
		structure.SetContentsBegin(tok.Pos - p.headerOffset)
		structure.SetContentsEnd(tok.End - p.headerOffset)
		return stringFromToken(tok), nil
	case scanner.TokenRef:
		structure.SetIndirect(raw.ObjectKey{Num: tok.Num, Gen: tok.Gen})
		return raw.Ref(tok.Num, tok.Gen), nil
	default:
		tr.unread(tok)
		return p.parseDirObject(tr, depth)
	}
}

// skipToDictBoundary consumes bytes until the next '/', '>', endstream or
// endobj, returning true when the dictionary cannot be continued.
func (p *Parser) skipToDictBoundary() bool {
	for {
		b := p.c.ReadByte()
		if b < 0 {
			return true
		}
		c := byte(b)
		if c == '/' || c == '>' {
			p.c.Rewind(1)
			return false
		}
		if c == 'e' && (p.isStringAt([]byte("ndstream")) || p.isStringAt([]byte("ndobj"))) {
			p.c.Rewind(1)
			return true
		}
	}
}

func (p *Parser) parseArrayBody(tr *tokenReader, depth int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.next()
		if err != nil {
			if errors.Is(err, io.EOF) && !p.strict() {
				p.warn("grammar", errors.New("unexpected end of file in array"))
				break
			}
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword {
			switch tok.Str {
			case "]":
				return arr, nil
			case "endobj", "endstream":
				if p.strict() {
					return nil, fmt.Errorf("%w: unexpected %q in array", ErrMalformedObject, tok.Str)
				}
				p.warn("grammar", fmt.Errorf("array not closed before %q", tok.Str))
				tr.unread(tok)
				return arr, nil
			case "R":
				// two preceding integers and a lone R collapse to a reference
				if n := len(arr.Items); n >= 2 {
					num, okN := arr.Items[n-2].(raw.NumberObj)
					gen, okG := arr.Items[n-1].(raw.NumberObj)
					if okN && okG && num.IsInt && gen.IsInt {
						arr.Items = arr.Items[:n-2]
						arr.Append(raw.Ref(num.I, int(gen.I)))
						continue
					}
				}
				if p.strict() {
					return nil, fmt.Errorf("%w: stray R in array", ErrMalformedObject)
				}
				p.warn("grammar", errors.New("dropping stray R in array"))
				continue
			}
		}
		tr.unread(tok)
		item, err := p.parseDirObject(tr, depth)
		if err != nil {
			if p.strict() {
				return nil, err
			}
			// drop the malformed entry and keep going
			p.warn("grammar", fmt.Errorf("dropping malformed array entry: %v", err))
			t, err := tr.next()
			if err != nil {
				break
			}
			if t.Type == scanner.TokenKeyword && (t.Str == "]" || t.Str == "endobj" || t.Str == "endstream") {
				tr.unread(t)
			}
			continue
		}
		arr.Append(item)
	}
	return arr, nil
}

// isStringAt reports whether the bytes at the current position match pat,
// without consuming anything.
func (p *Parser) isStringAt(pat []byte) bool {
	for i, want := range pat {
		b := p.c.PeekAt(int64(i))
		if b < 0 || byte(b) != want {
			return false
		}
	}
	return true
}

// offsetOfNextEOF scans forward from the given absolute offset for the next
// %%EOF marker and returns the absolute offset of its final F, or the file
// length when no marker follows. The cursor is preserved.
func (p *Parser) offsetOfNextEOF(from int64) int64 {
	marker := []byte("%%EOF")
	saved := p.c.Position()
	defer p.c.Seek(saved)
	if err := p.c.Seek(from); err != nil {
		return p.c.Length()
	}
	for pos := from; pos+int64(len(marker)) <= p.c.Length(); pos++ {
		p.c.Seek(pos)
		if p.isStringAt(marker) {
			return pos + int64(len(marker)) - 1
		}
	}
	return p.c.Length()
}

// readExpectedKeyword consumes the given bare keyword, optionally skipping
// leading whitespace, and errors when the bytes differ.
func (p *Parser) readExpectedKeyword(kw string, skipLeading bool) error {
	if skipLeading {
		p.c.SkipSpaces()
	}
	if !p.isStringAt([]byte(kw)) {
		return fmt.Errorf("expected %q at offset %d", kw, p.c.Position())
	}
	p.c.Seek(p.c.Position() + int64(len(kw)))
	if b := p.c.Peek(); b >= 0 && !cursor.IsDelimiter(byte(b)) {
		return fmt.Errorf("expected %q at offset %d", kw, p.c.Position())
	}
	return nil
}
