package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/ir/raw"
)

var (
	endstreamBytes = []byte("endstream")
	endobjBytes    = []byte("endobj")
)

// parseStream reads a stream payload. The cursor must sit directly after
// the "stream" keyword. On return it sits directly after "endstream" (or
// before the recovered "endobj" for corrupt files, which is left for the
// caller).
func (p *Parser) parseStream(dict *raw.DictObj, s *slot) (*raw.StreamObj, error) {
	// PDF 7.3.8: the stream keyword is followed by CR LF or LF alone.
	crlfOK := true
	switch p.c.Peek() {
	case '\r':
		p.c.ReadByte()
		if p.c.Peek() == '\n' {
			p.c.ReadByte()
		} else {
			crlfOK = false
		}
	case '\n':
		p.c.ReadByte()
	default:
		crlfOK = false
		if p.strict() {
			return nil, fmt.Errorf("%w: missing EOL after stream keyword", ErrMalformedObject)
		}
		p.warn("stream", errors.New("missing EOL after stream keyword"))
	}
	if p.validating() && !crlfOK {
		s.flags.StreamKeywordCRLF = false
	}

	dataStart := p.c.Position()

	length, haveLength, err := p.resolveStreamLength(dict)
	if err != nil {
		if p.strict() {
			return nil, err
		}
		p.warn("stream", err)
		haveLength = false
	}
	if haveLength && p.cfg.Limits.MaxStreamLength > 0 && length > p.cfg.Limits.MaxStreamLength {
		return nil, fmt.Errorf("%w: declared length %d exceeds limit", ErrStreamLength, length)
	}

	if haveLength && length >= 0 && p.validStreamLength(dataStart, length) {
		payload, err := p.c.ReadFully(int(length))
		if err != nil {
			return nil, err
		}
		blob := p.cfg.Scratch.NewBlob()
		if _, err := blob.Write(payload); err != nil {
			return nil, err
		}
		if p.validating() {
			p.checkEndstreamEOL(s, p.endstreamKeywordStart(dataStart+length))
		}
		if err := p.readExpectedKeyword("endstream", true); err != nil {
			if p.strict() {
				return nil, fmt.Errorf("%w: %v", ErrStreamLength, err)
			}
			p.warn("stream", err)
		}
		stream := raw.NewStream(dict, blob)
		stream.OriginLength = length
		return stream, nil
	}

	// length missing or wrong: scan for the endstream keyword
	if haveLength {
		p.warn("stream", fmt.Errorf("declared /Length %d does not end at endstream, scanning", length))
	}
	if err := p.c.Seek(dataStart); err != nil {
		return nil, err
	}
	var scanned bytes.Buffer
	if err := p.readUntilEndStream(&scanned); err != nil {
		return nil, err
	}
	keywordStart := p.c.Position()
	originLength := keywordStart - dataStart
	if p.validating() {
		p.checkEndstreamEOL(s, keywordStart)
	}
	payload := trimTrailingEOL(scanned.Bytes())
	blob := p.cfg.Scratch.NewBlob()
	if _, err := blob.Write(payload); err != nil {
		return nil, err
	}

	if p.isStringAt(endstreamBytes) {
		p.c.Seek(keywordStart + int64(len(endstreamBytes)))
	} else if p.isStringAt(endobjBytes) {
		// corrupt file: no endstream at all; leave endobj for the caller
		p.warn("stream", errors.New("stream terminated by endobj without endstream"))
	} else if p.strict() {
		return nil, fmt.Errorf("%w: no endstream found", ErrStreamLength)
	}

	stream := raw.NewStream(dict, blob)
	stream.OriginLength = originLength
	// the declared length was unusable; publish what was actually read
	dict.Set("Length", raw.Int(blob.Len()))
	return stream, nil
}

// endstreamKeywordStart finds where the endstream keyword actually begins
// at or after the declared end of data.
func (p *Parser) endstreamKeywordStart(declaredEnd int64) int64 {
	saved := p.c.Position()
	defer p.c.Seek(saved)
	p.c.Seek(declaredEnd)
	p.c.SkipSpaces()
	return p.c.Position()
}

// validStreamLength checks that start+length stays inside the file and
// that endstream follows there, cursor preserved.
func (p *Parser) validStreamLength(start, length int64) bool {
	if length < 0 || start+length > p.c.Length() {
		return false
	}
	saved := p.c.Position()
	defer p.c.Seek(saved)
	if err := p.c.Seek(start + length); err != nil {
		return false
	}
	p.c.SkipSpaces()
	return p.isStringAt(endstreamBytes)
}

// checkEndstreamEOL records whether an EOL directly precedes the
// endstream keyword at the given absolute offset.
func (p *Parser) checkEndstreamEOL(s *slot, keywordStart int64) {
	saved := p.c.Position()
	defer p.c.Seek(saved)
	ok := false
	if keywordStart > 0 {
		p.c.Seek(keywordStart - 1)
		if b := p.c.Peek(); b >= 0 && cursor.IsEOL(byte(b)) {
			ok = true
		}
	}
	if !ok {
		s.flags.EndstreamKeywordEOL = false
	}
}

// trimTrailingEOL drops the CR LF, LF or CR separating payload bytes from
// the endstream keyword.
func trimTrailingEOL(b []byte) []byte {
	n := len(b)
	switch {
	case n >= 2 && b[n-2] == '\r' && b[n-1] == '\n':
		return b[:n-2]
	case n >= 1 && (b[n-1] == '\n' || b[n-1] == '\r'):
		return b[:n-1]
	}
	return b
}

// readUntilEndStream copies payload bytes into out until the next
// endstream (or, in corrupt files, endobj) keyword. A Boyer-Moore style
// quick test on the last byte of an endobj-length window skips most of the input
// without per-byte comparison; when a partial match breaks, the suffix may
// itself start a new match ('e' restarts at 1, 'n' at index 7 restarts at
// 2). On return the cursor sits at the keyword's first byte.
func (p *Parser) readUntilEndStream(out *bytes.Buffer) error {
	const bufLen = 2048
	// last character position of the shortest keyword ("endobj")
	const quickTestOffset = 5

	buf := make([]byte, bufLen)
	charMatchCount := 0
	keyw := endstreamBytes

	for {
		n, err := p.c.Read(buf[charMatchCount:])
		if n <= 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			break
		}
		bufSize := n + charMatchCount
		bIdx := charMatchCount
		maxQuickTest := bufSize - quickTestOffset

		for ; bIdx < bufSize; bIdx++ {
			if charMatchCount == 0 {
				quickTestIdx := bIdx + quickTestOffset
				if quickTestIdx < maxQuickTest {
					ch := buf[quickTestIdx]
					if ch > 't' || ch < 'a' {
						// cannot be part of either keyword: jump ahead
						bIdx = quickTestIdx
						continue
					}
				}
			}
			ch := buf[bIdx]
			if ch == keyw[charMatchCount] {
				charMatchCount++
				if charMatchCount == len(keyw) {
					bIdx++
					break
				}
			} else {
				if charMatchCount == 3 && ch == endobjBytes[3] {
					// "end" followed by 'o': endstream may be missing
					keyw = endobjBytes
					charMatchCount++
				} else {
					switch {
					case ch == 'e':
						charMatchCount = 1
					case ch == 'n' && charMatchCount == 7:
						charMatchCount = 2
					default:
						charMatchCount = 0
					}
					keyw = endstreamBytes
				}
			}
		}

		contentBytes := bIdx - charMatchCount
		if contentBytes < 0 {
			contentBytes = 0
		}
		if contentBytes > 0 {
			out.Write(buf[:contentBytes])
		}
		if p.cfg.Limits.MaxStreamLength > 0 && int64(out.Len()) > p.cfg.Limits.MaxStreamLength {
			return fmt.Errorf("%w: stream exceeds size limit", ErrStreamLength)
		}
		if charMatchCount == len(keyw) {
			// unread the keyword plus whatever followed it
			if err := p.c.Rewind(int64(bufSize - contentBytes)); err != nil {
				return err
			}
			break
		}
		// carry the matched prefix into the next chunk
		copy(buf, keyw[:charMatchCount])
	}
	return nil
}
