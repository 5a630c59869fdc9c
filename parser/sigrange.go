package parser

import (
	"fmt"

	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/scanner"
	"github.com/veraPDF/pdfbox/validation"
	"github.com/veraPDF/pdfbox/xref"
)

// processByteRangeStructures finishes every signature byte-range record:
// structures whose /Contents was indirect get their offsets by re-parsing
// the referenced object, then each structure's declared /ByteRange is
// compared against the observed offsets.
func (p *Parser) processByteRangeStructures() {
	for _, structure := range p.record.Structures() {
		if !structure.Calculated() {
			if structure.Indirect == nil {
				p.warn("signature", fmt.Errorf("byte range not calculated and /Contents not indirect"))
				continue
			}
			if err := p.resolveIndirectByteRange(structure); err != nil {
				p.warn("signature", err)
				continue
			}
		}
		if structure.Calculated() && structure.IsValidByteRange() {
			p.record.AddGoodByteRange(structure.Dict)
		}
	}
}

// resolveIndirectByteRange seeks into the object holding the signature
// /Contents string and records the string token's bounds. Chained
// references are followed until the string itself.
func (p *Parser) resolveIndirectByteRange(structure *validation.ByteRangeStructure) error {
	key := *structure.Indirect
	for depth := 0; depth < p.cfg.Limits.MaxNestingDepth; depth++ {
		entry, ok := p.mergedXRef[key]
		if !ok || entry.Kind != xref.KindInUse {
			return fmt.Errorf("signature /Contents %v not in xref", key)
		}
		if err := p.c.Seek(entry.Offset + p.headerOffset); err != nil {
			return err
		}
		p.c.SkipSpaces()
		if _, err := p.s.ReadObjectNumber(); err != nil {
			return err
		}
		if _, err := p.s.ReadGenerationNumber(); err != nil {
			return err
		}
		if err := p.readExpectedKeyword("obj", true); err != nil {
			return err
		}
		p.c.SkipSpaces()
		tok, err := p.s.Next()
		if err != nil {
			return err
		}
		switch tok.Type {
		case scanner.TokenString:
			structure.SetContentsBegin(tok.Pos - p.headerOffset)
			structure.SetContentsEnd(tok.End - p.headerOffset)
			return nil
		case scanner.TokenRef:
			key = raw.ObjectKey{Num: tok.Num, Gen: tok.Gen}
			continue
		default:
			return fmt.Errorf("signature /Contents %v is not a string", key)
		}
	}
	return ErrMalformedNesting
}
