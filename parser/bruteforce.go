package parser

import (
	"strconv"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/observability"
)

// Whole-file scans used to rebuild a missing or broken index. Each scan
// runs at most once per document; all call sites consult the cache. The
// cursor is preserved around every scan.

// bfSearchForObjects collects the offsets of all "N G obj" headers.
func (p *Parser) bfSearchForObjects() {
	if p.bfObjects != nil {
		return
	}
	p.bfObjects = make(map[raw.ObjectKey]int64)
	saved := p.c.Position()
	defer p.c.Seek(saved)
	p.cfg.Logger.Debug("brute force scan for objects",
		observability.String("scan", observability.MetricBruteForceScans))

	pattern := []byte(" obj")
	for offset := int64(minimumSearchOffset); offset < p.c.Length(); offset++ {
		p.c.Seek(offset)
		if !p.isStringAt(pattern) {
			continue
		}
		// walk backward: one generation digit, spaces, object number
		tempOffset := offset - 1
		p.c.Seek(tempOffset)
		genChar := p.c.Peek()
		if genChar < 0 || !cursor.IsDigit(byte(genChar)) {
			continue
		}
		gen := int(genChar - '0')
		tempOffset--
		p.c.Seek(tempOffset)
		if b := p.c.Peek(); b < 0 || !cursor.IsSpace(byte(b)) {
			continue
		}
		for tempOffset > minimumSearchOffset {
			p.c.Seek(tempOffset)
			if b := p.c.Peek(); b >= 0 && cursor.IsSpace(byte(b)) {
				tempOffset--
				continue
			}
			break
		}
		length := 0
		for tempOffset > minimumSearchOffset {
			p.c.Seek(tempOffset)
			if b := p.c.Peek(); b >= 0 && cursor.IsDigit(byte(b)) {
				tempOffset--
				length++
				continue
			}
			break
		}
		if length == 0 {
			continue
		}
		numStart := tempOffset + 1
		p.c.Seek(numStart)
		digits, err := p.c.ReadFully(length)
		if err != nil {
			continue
		}
		objNum, err := strconv.ParseInt(string(digits), 10, 64)
		if err != nil {
			continue
		}
		p.bfObjects[raw.ObjectKey{Num: objNum, Gen: gen}] = numStart
	}
}

// bfSearchForXRefTables collects the starts of all "xref" keywords that
// are preceded by whitespace, which excludes every "startxref".
func (p *Parser) bfSearchForXRefTables() {
	if p.bfTables != nil {
		return
	}
	p.bfTables = []int64{}
	saved := p.c.Position()
	defer p.c.Seek(saved)

	pattern := []byte("xref")
	for offset := int64(minimumSearchOffset); offset < p.c.Length(); offset++ {
		p.c.Seek(offset)
		if !p.isStringAt(pattern) {
			continue
		}
		p.c.Seek(offset - 1)
		if b := p.c.Peek(); b >= 0 && cursor.IsWhitespace(byte(b)) {
			p.bfTables = append(p.bfTables, offset)
		}
		offset += int64(len(pattern)) - 1
	}
}

// bfSearchForXRefStreams collects object header offsets of /XRef streams
// by walking back up to 30x10 bytes from each /XRef occurrence.
func (p *Parser) bfSearchForXRefStreams() {
	if p.bfStreams != nil {
		return
	}
	p.bfStreams = []int64{}
	saved := p.c.Position()
	defer p.c.Seek(saved)

	pattern := []byte("/XRef")
	objPattern := []byte(" obj")
	for offset := int64(minimumSearchOffset); offset < p.c.Length(); offset++ {
		p.c.Seek(offset)
		if !p.isStringAt(pattern) {
			continue
		}
		newOffset := int64(-1)
	outer:
		for i := int64(1); i < 30; i++ {
			currentOffset := offset - i*10
			if currentOffset <= 0 {
				continue
			}
			for j := 0; j < 10; j++ {
				p.c.Seek(currentOffset)
				if !p.isStringAt(objPattern) {
					currentOffset++
					continue
				}
				tempOffset := currentOffset - 1
				p.c.Seek(tempOffset)
				genChar := p.c.Peek()
				if genChar >= 0 && cursor.IsDigit(byte(genChar)) {
					tempOffset--
					p.c.Seek(tempOffset)
					if b := p.c.Peek(); b >= 0 && cursor.IsSpace(byte(b)) {
						length := 0
						tempOffset--
						for tempOffset > minimumSearchOffset {
							p.c.Seek(tempOffset)
							if b := p.c.Peek(); b >= 0 && cursor.IsDigit(byte(b)) {
								tempOffset--
								length++
								continue
							}
							break
						}
						if length > 0 {
							newOffset = tempOffset + 1
						}
					}
				}
				p.cfg.Logger.Debug("fixed reference for xref stream",
					observability.Int64("at", offset),
					observability.Int64("header", newOffset))
				break outer
			}
		}
		if newOffset > -1 {
			p.bfStreams = append(p.bfStreams, newOffset)
		}
		offset += int64(len(pattern)) - 1
	}
}

// bfSearchForXRef returns the scanned xref start nearest to the expected
// offset. Ties prefer tables over streams; a chosen candidate is removed
// so repeated repairs cannot reuse it.
func (p *Parser) bfSearchForXRef(xrefOffset int64, streamsOnly bool) int64 {
	newOffsetTable := int64(-1)
	newOffsetStream := int64(-1)
	if !streamsOnly {
		p.bfSearchForXRefTables()
		newOffsetTable = searchNearestValue(p.bfTables, xrefOffset)
	}
	p.bfSearchForXRefStreams()
	newOffsetStream = searchNearestValue(p.bfStreams, xrefOffset)

	switch {
	case newOffsetTable > -1 && newOffsetStream > -1:
		diffTable := abs64(xrefOffset - newOffsetTable)
		diffStream := abs64(xrefOffset - newOffsetStream)
		if diffTable > diffStream {
			p.bfStreams = removeValue(p.bfStreams, newOffsetStream)
			return newOffsetStream
		}
		p.bfTables = removeValue(p.bfTables, newOffsetTable)
		return newOffsetTable
	case newOffsetTable > -1:
		p.bfTables = removeValue(p.bfTables, newOffsetTable)
		return newOffsetTable
	case newOffsetStream > -1:
		p.bfStreams = removeValue(p.bfStreams, newOffsetStream)
		return newOffsetStream
	}
	return -1
}

func searchNearestValue(values []int64, offset int64) int64 {
	best := int64(-1)
	bestDiff := int64(-1)
	for _, v := range values {
		diff := abs64(offset - v)
		if bestDiff == -1 || diff < bestDiff {
			bestDiff = diff
			best = v
		}
	}
	return best
}

func removeValue(values []int64, v int64) []int64 {
	for i, x := range values {
		if x == v {
			return append(values[:i], values[i+1:]...)
		}
	}
	return values
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
