package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/filters"
	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/observability"
	"github.com/veraPDF/pdfbox/validation"
	"github.com/veraPDF/pdfbox/xref"
)

// an object header can never sit in the very first bytes of a file
const minimumSearchOffset = 6

// locateStartxref scans the trailing EOF-lookup window for the last %%EOF
// and the last startxref keyword before it, returning the absolute offset
// of "startxref" or -1 when lenient parsing should fall back to a rebuild.
func (p *Parser) locateStartxref() (int64, error) {
	fileLen := p.c.Length()
	trail := eofLookupRange(p.cfg.EOFLookupRange)
	if trail > fileLen {
		trail = fileLen
	}
	skip := fileLen - trail
	if err := p.c.Seek(skip); err != nil {
		return -1, err
	}
	buf, err := p.c.ReadFully(int(trail))
	if err != nil {
		return -1, err
	}

	eofOff := bytes.LastIndex(buf, []byte("%%EOF"))
	searchEnd := eofOff
	if eofOff < 0 {
		if p.record != nil {
			// pdf/a-1b clause 6.1.3
			p.record.PostEOFDataSize = -1
		}
		if p.strict() {
			return -1, ErrMissingEOFMarker
		}
		p.cfg.Logger.Debug("missing %%EOF marker")
		searchEnd = len(buf)
	} else if p.record != nil {
		p.record.PostEOFDataSize = postEOFDataSize(buf, eofOff)
	}

	sxOff := bytes.LastIndex(buf[:maxInt(searchEnd, 0)], []byte("startxref"))
	if sxOff < 0 {
		if p.record != nil {
			p.record.StartxrefPresent = false
		}
		if !p.strict() {
			p.cfg.Logger.Debug("cannot find startxref, will rebuild xref")
			return -1, nil
		}
		return -1, ErrMissingStartxref
	}
	return skip + int64(sxOff), nil
}

// postEOFDataSize counts the bytes after %%EOF, excusing one trailing
// CR LF, LF or CR.
func postEOFDataSize(buf []byte, eofOff int) int64 {
	endOfEOF := eofOff + 5
	size := int64(len(buf) - endOfEOF)
	if size > 0 {
		if buf[endOfEOF] == '\r' {
			if endOfEOF+1 < len(buf) && buf[endOfEOF+1] == '\n' {
				size -= 2
			} else {
				size--
			}
		} else if buf[endOfEOF] == '\n' {
			size--
		}
	}
	return size
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// parseXrefChain follows startxref and the /Prev chain, dispatching to the
// classic-table or xref-stream parser per section. Visited offsets break
// reference loops.
func (p *Parser) parseXrefChain(startxrefPos int64) error {
	if err := p.c.Seek(startxrefPos); err != nil {
		return err
	}
	if err := p.readExpectedKeyword("startxref", true); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingStartxref, err)
	}
	value, err := p.s.ReadLong()
	if err != nil {
		if p.strict() {
			return fmt.Errorf("%w: bad startxref value: %v", ErrBadXref, err)
		}
		p.warn("xref", fmt.Errorf("bad startxref value: %v", err))
		value = 0
	}
	offset := value + p.headerOffset
	if fixed := p.checkXRefOffset(offset); fixed > 0 {
		offset = fixed
	}
	p.startXref = offset

	visited := make(map[int64]bool)
	prev := offset
	depth := 0
	for prev > 0 {
		if visited[prev] {
			p.warn("xref", fmt.Errorf("circular /Prev chain at offset %d", prev))
			break
		}
		if depth++; depth > p.cfg.Limits.MaxXRefDepth {
			err := fmt.Errorf("/Prev chain longer than %d sections", p.cfg.Limits.MaxXRefDepth)
			if p.strict() {
				return fmt.Errorf("%w: %v", ErrBadXref, err)
			}
			p.warn("xref", err)
			break
		}
		visited[prev] = true
		next, err := p.parseXrefSection(prev)
		if err != nil {
			if p.strict() {
				return err
			}
			p.warn("xref", err)
			break
		}
		prev = next
	}

	p.mergedXRef = p.resolver.MergedXRef()
	p.trailer = p.resolver.MergedTrailer()
	p.cfg.Logger.Debug("xref chain parsed",
		observability.Int(observability.MetricXrefSections, p.resolver.SectionCount()),
		observability.Int(observability.MetricObjectCount, len(p.mergedXRef)))
	return nil
}

// parseXrefSection parses one table or stream section at the absolute
// offset, returning the translated /Prev offset or 0 at the chain end.
func (p *Parser) parseXrefSection(offset int64) (int64, error) {
	if err := p.c.Seek(offset); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXref, err)
	}
	p.c.SkipSpaces()
	if p.c.Peek() == 'x' && p.isStringAt([]byte("xref")) {
		return p.parseXrefTable(offset)
	}
	return p.parseXrefStreamAt(p.c.Position(), offset, true)
}

func (p *Parser) parseXrefTable(offset int64) (int64, error) {
	if err := p.readExpectedKeyword("xref", false); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXref, err)
	}
	p.resolver.NextSection(offset-p.headerOffset, xref.TypeTable)

	if p.record != nil {
		p.checkXrefEOLMarkers()
	} else {
		p.c.SkipSpaces()
	}

	// subsections: "start count" then count entry lines
	for {
		b := p.c.Peek()
		if b < 0 || !cursor.IsDigit(byte(b)) {
			break
		}
		start, err := p.s.ReadObjectNumber()
		if err != nil {
			return 0, fmt.Errorf("%w: bad subsection start: %v", ErrBadXref, err)
		}
		if p.record != nil {
			// pdf/a-1b clause 6.1.4: exactly one space before the count
			if sp := p.c.ReadByte(); sp != ' ' || !isDigitAt(p.c) {
				p.record.SubsectionHeaderSpaceSeparated = false
			}
		}
		count, err := p.s.ReadLong()
		if err != nil {
			return 0, fmt.Errorf("%w: bad subsection count: %v", ErrBadXref, err)
		}
		p.c.SkipSpaces()
		for i := int64(0); i < count; i++ {
			if p.c.IsEOF() || p.c.Peek() == 't' {
				break
			}
			line, err := p.c.ReadLine()
			if err != nil {
				return 0, fmt.Errorf("%w: truncated xref subsection: %v", ErrBadXref, err)
			}
			fields := strings.Fields(line)
			if len(fields) < 3 {
				if p.strict() {
					return 0, fmt.Errorf("%w: invalid xref entry %q", ErrBadXref, line)
				}
				p.warn("xref", fmt.Errorf("invalid xref entry %q", line))
				continue
			}
			entryOffset, err1 := strconv.ParseInt(fields[0], 10, 64)
			gen, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil {
				if p.strict() {
					return 0, fmt.Errorf("%w: invalid xref entry %q", ErrBadXref, line)
				}
				p.warn("xref", fmt.Errorf("invalid xref entry %q", line))
				continue
			}
			key := raw.ObjectKey{Num: start + i, Gen: gen}
			switch fields[2][0] {
			case 'n':
				p.resolver.SetEntry(key, xref.InUse(entryOffset))
			case 'f':
				p.resolver.SetEntry(key, xref.Free())
			default:
				p.warn("xref", fmt.Errorf("invalid xref entry type %q", line))
			}
		}
		p.c.SkipSpaces()
	}

	// skip junk lines before the trailer keyword in lenient mode
	for !p.strict() && !p.c.IsEOF() && p.c.Peek() != 't' {
		if _, err := p.c.ReadLine(); err != nil {
			break
		}
	}
	if err := p.readExpectedKeyword("trailer", true); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXref, err)
	}
	p.c.SkipSpaces()
	tr := newTokenReader(p.s)
	obj, err := p.parseDirObject(tr, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: trailer: %v", ErrBadXref, err)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return 0, fmt.Errorf("%w: trailer is not a dictionary", ErrBadXref)
	}
	p.resolver.SetTrailer(trailer)

	// hybrid files keep compressed objects in a parallel xref stream
	if stm, ok := trailer.GetInt("XRefStm"); ok {
		streamOffset := stm + p.headerOffset
		if fixed := p.checkXRefStreamOffset(streamOffset); fixed > 0 {
			streamOffset = fixed
		}
		if streamOffset > 0 {
			saved := p.c.Position()
			if err := p.c.Seek(streamOffset); err == nil {
				p.c.SkipSpaces()
				if _, err := p.parseXrefStreamAt(p.c.Position(), streamOffset, false); err != nil {
					if p.strict() {
						return 0, err
					}
					p.warn("xref", fmt.Errorf("skipped hybrid xref stream: %v", err))
				}
			}
			p.c.Seek(saved)
		} else if p.strict() {
			return 0, fmt.Errorf("%w: corrupt /XRefStm offset %d", ErrBadXref, stm)
		} else {
			p.warn("xref", fmt.Errorf("skipped hybrid xref stream at corrupt offset %d", stm))
		}
	}

	if prev, ok := trailer.GetInt("Prev"); ok && prev > 0 {
		next := prev + p.headerOffset
		if fixed := p.checkXRefOffset(next); fixed > 0 {
			next = fixed
		}
		return next, nil
	}
	return 0, nil
}

// checkXrefEOLMarkers validates clause 6.1.4: after the xref keyword a CR
// must pair with LF or be followed directly by a digit.
func (p *Parser) checkXrefEOLMarkers() {
	b := p.c.ReadByte()
	if b == '\r' {
		if p.c.Peek() == '\n' {
			p.c.ReadByte()
		}
		if !isDigitAt(p.c) {
			p.record.XrefEOLMarkersComply = false
		}
	} else if b != '\n' || !isDigitAt(p.c) {
		p.record.XrefEOLMarkersComply = false
	}
	p.c.SkipSpaces()
}

func isDigitAt(c *cursor.Cursor) bool {
	b := c.Peek()
	return b >= 0 && cursor.IsDigit(byte(b))
}

// parseXrefStreamAt parses "N G obj << ... >> stream ... endstream" and
// decodes the xref entries according to /W, /Index and /Size. A hybrid
// stream (standalone=false) merges into the current table section.
func (p *Parser) parseXrefStreamAt(headerPos, sectionOffset int64, standalone bool) (int64, error) {
	if err := p.c.Seek(headerPos); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXref, err)
	}
	if _, err := p.s.ReadObjectNumber(); err != nil {
		return 0, fmt.Errorf("%w: no xref at offset %d: %v", ErrBadXref, sectionOffset, err)
	}
	if _, err := p.s.ReadGenerationNumber(); err != nil {
		return 0, fmt.Errorf("%w: no xref at offset %d: %v", ErrBadXref, sectionOffset, err)
	}
	if err := p.readExpectedKeyword("obj", true); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXref, err)
	}

	tr := newTokenReader(p.s)
	obj, err := p.parseDirObject(tr, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: xref stream dictionary: %v", ErrBadXref, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return 0, fmt.Errorf("%w: xref stream object is not a dictionary", ErrBadXref)
	}
	tok, err := tr.next()
	if err != nil || tok.Str != "stream" {
		return 0, fmt.Errorf("%w: xref stream body missing", ErrBadXref)
	}
	scratchSlot := &slot{key: raw.ObjectKey{}, flags: validation.CompliantFlags()}
	stream, err := p.parseStream(dict, scratchSlot)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXref, err)
	}

	if standalone {
		p.resolver.NextSection(sectionOffset-p.headerOffset, xref.TypeStream)
		p.resolver.SetTrailer(dict)
	}
	if err := p.decodeXrefStream(stream); err != nil {
		return 0, err
	}

	if prev, ok := dict.GetInt("Prev"); ok && prev > 0 {
		next := prev + p.headerOffset
		if fixed := p.checkXRefOffset(next); fixed > 0 {
			next = fixed
		}
		return next, nil
	}
	return 0, nil
}

// decodeXrefStream expands the stream payload and walks the /W-shaped
// rows. Type 0 frees the object, type 1 records a byte offset, type 2 a
// compressed location.
func (p *Parser) decodeXrefStream(stream *raw.StreamObj) error {
	dict := stream.Dict
	data := stream.RawData()
	if names, params := filters.ForStream(dict); len(names) > 0 {
		pipe := filters.Standard(filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize})
		decoded, err := pipe.Decode(data, names, params)
		if err != nil {
			return fmt.Errorf("%w: xref stream decode: %v", ErrBadXref, err)
		}
		data = decoded
	}

	wArr, ok := dict.GetArray("W")
	if !ok || wArr.Len() < 3 {
		return fmt.Errorf("%w: xref stream missing /W", ErrBadXref)
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		v, _ := wArr.Get(i)
		n, ok := v.(raw.NumberObj)
		if !ok || !n.IsInt || n.I < 0 {
			return fmt.Errorf("%w: invalid /W entry", ErrBadXref)
		}
		w[i] = int(n.I)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen <= 0 {
		return fmt.Errorf("%w: zero-width xref stream rows", ErrBadXref)
	}

	size, _ := dict.GetInt("Size")
	var index []int64
	if arr, ok := dict.GetArray("Index"); ok {
		for _, it := range arr.Items {
			if n, ok := it.(raw.NumberObj); ok && n.IsInt {
				index = append(index, n.I)
			}
		}
	}
	if len(index) == 0 {
		index = []int64{0, size}
	}

	row := 0
	for pair := 0; pair+1 < len(index); pair += 2 {
		start, count := index[pair], index[pair+1]
		for i := int64(0); i < count; i++ {
			base := row * rowLen
			if base+rowLen > len(data) {
				p.warn("xref", errors.New("xref stream shorter than /Index declares"))
				return nil
			}
			row++
			typ := int64(1)
			if w[0] > 0 {
				typ = readField(data, base, w[0])
			}
			f2 := readField(data, base+w[0], w[1])
			f3 := readField(data, base+w[0]+w[1], w[2])
			key := raw.ObjectKey{Num: start + i}
			switch typ {
			case 0:
				p.resolver.SetEntry(key, xref.Free())
			case 1:
				key.Gen = int(f3)
				p.resolver.SetEntry(key, xref.InUse(f2))
			case 2:
				p.resolver.SetEntry(key, xref.Compressed(f2, int(f3)))
			default:
				// reserved type: treat the object as missing
			}
		}
	}
	return nil
}

func readField(data []byte, off, width int) int64 {
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(data[off+i])
	}
	return v
}

// checkXRefOffset verifies that an xref table or stream really starts at
// the given absolute offset, repairing it from the brute-force scan when
// the mode allows.
func (p *Parser) checkXRefOffset(offset int64) int64 {
	if !p.cfg.Mode.RecoverBadOffsets {
		return offset
	}
	if err := p.c.Seek(offset); err != nil {
		return p.calculateXRefFixedOffset(offset, false)
	}
	if p.c.Peek() == 'x' && p.isStringAt([]byte("xref")) {
		return offset
	}
	if offset > 0 {
		if fixed := p.probeXRefStreamOffset(offset); fixed > 0 {
			return fixed
		}
	}
	return p.calculateXRefFixedOffset(offset, false)
}

// checkXRefStreamOffset is the stream-only variant used for /XRefStm.
func (p *Parser) checkXRefStreamOffset(offset int64) int64 {
	if !p.cfg.Mode.RecoverBadOffsets || offset == 0 {
		return offset
	}
	if fixed := p.probeXRefStreamOffset(offset); fixed > 0 {
		return fixed
	}
	return p.calculateXRefFixedOffset(offset, true)
}

// probeXRefStreamOffset reports offset when a whitespace-preceded object
// header sits there, the shape of every xref stream.
func (p *Parser) probeXRefStreamOffset(offset int64) int64 {
	if offset < 1 {
		return -1
	}
	if err := p.c.Seek(offset - 1); err != nil {
		return -1
	}
	b := p.c.ReadByte()
	if b < 0 || !cursor.IsWhitespace(byte(b)) || !isDigitAt(p.c) {
		return -1
	}
	if _, err := p.s.ReadObjectNumber(); err != nil {
		return -1
	}
	if _, err := p.s.ReadGenerationNumber(); err != nil {
		return -1
	}
	if err := p.readExpectedKeyword("obj", true); err != nil {
		return -1
	}
	return offset
}

func (p *Parser) calculateXRefFixedOffset(offset int64, streamsOnly bool) int64 {
	if offset < 0 {
		p.cfg.Logger.Error("invalid xref offset", observability.Int64("offset", offset))
		return 0
	}
	newOffset := p.bfSearchForXRef(offset, streamsOnly)
	if newOffset > -1 {
		p.warn("xref", fmt.Errorf("fixed reference for xref table/stream %d -> %d", offset, newOffset))
		return newOffset
	}
	p.cfg.Logger.Error("cannot find xref table/stream", observability.Int64("offset", offset))
	return 0
}

// checkXrefOffsets cross-checks every in-use entry against the bytes at
// its offset. On the first failure lenient parsing overwrites the index
// with the brute-force scan results; entries the scan did not find (such
// as compressed ones) are kept. Validation parsing drops the bad entries.
func (p *Parser) checkXrefOffsets() error {
	if p.strict() {
		return nil
	}
	if p.cfg.Mode.DropInsteadOfReplace {
		var remove []raw.ObjectKey
		for key, entry := range p.mergedXRef {
			if entry.Kind == xref.KindInUse && !p.checkObjectKey(key, entry.Offset+p.headerOffset) {
				remove = append(remove, key)
			}
		}
		for _, key := range remove {
			p.warn("xref", fmt.Errorf("object %v has invalid offset, dropping", key))
			delete(p.mergedXRef, key)
		}
		return nil
	}

	broken := false
	for key, entry := range p.mergedXRef {
		if entry.Kind == xref.KindInUse && !p.checkObjectKey(key, entry.Offset+p.headerOffset) {
			broken = true
			break
		}
	}
	if !broken {
		return nil
	}
	p.bfSearchForObjects()
	if len(p.bfObjects) == 0 {
		return nil
	}
	p.cfg.Logger.Debug("replaced read xref table with the results of a brute force search")
	for key, absOffset := range p.bfObjects {
		p.mergedXRef[key] = xref.InUse(absOffset - p.headerOffset)
	}
	return nil
}

// checkObjectKey reports whether "N G obj" for the given key sits at the
// absolute offset. The cursor is preserved.
func (p *Parser) checkObjectKey(key raw.ObjectKey, offset int64) bool {
	if offset < minimumSearchOffset {
		return false
	}
	saved := p.c.Position()
	defer p.c.Seek(saved)
	if err := p.c.Seek(offset); err != nil {
		return false
	}
	num, err := p.s.ReadObjectNumber()
	if err != nil || num != key.Num {
		return false
	}
	gen, err := p.s.ReadGenerationNumber()
	if err != nil || gen != key.Gen {
		return false
	}
	return p.readExpectedKeyword("obj", true) == nil
}

// rebuildTrailer reconstructs the xref and trailer from a brute-force
// object scan when the startxref chain is unusable.
func (p *Parser) rebuildTrailer() error {
	p.bfSearchForObjects()
	if len(p.bfObjects) == 0 {
		return fmt.Errorf("%w: brute force search found no objects", ErrBadXref)
	}
	p.resolver.NextSection(0, xref.TypeTable)
	for key, absOffset := range p.bfObjects {
		p.resolver.SetEntry(key, xref.InUse(absOffset-p.headerOffset))
	}
	trailer := raw.Dict()
	p.resolver.SetTrailer(trailer)
	p.mergedXRef = p.resolver.MergedXRef()

	// identify catalog and info dictionaries among the found objects
	for key, absOffset := range p.bfObjects {
		if err := p.c.Seek(absOffset); err != nil {
			continue
		}
		if _, err := p.s.ReadObjectNumber(); err != nil {
			continue
		}
		if _, err := p.s.ReadGenerationNumber(); err != nil {
			continue
		}
		if err := p.readExpectedKeyword("obj", true); err != nil {
			continue
		}
		tr := newTokenReader(p.s)
		obj, err := p.parseDirObject(tr, 0)
		if err != nil {
			continue
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			continue
		}
		if t, ok := dict.GetName("Type"); ok && t == "Catalog" {
			trailer.Set("Root", raw.Ref(key.Num, key.Gen))
		} else if dict.Has("Title") || dict.Has("Author") || dict.Has("Subject") ||
			dict.Has("Keywords") || dict.Has("Creator") || dict.Has("Producer") ||
			dict.Has("CreationDate") {
			trailer.Set("Info", raw.Ref(key.Num, key.Gen))
		}
	}
	trailer.Set("Size", raw.Int(int64(len(p.bfObjects))))
	p.trailer = p.resolver.MergedTrailer()
	return nil
}
