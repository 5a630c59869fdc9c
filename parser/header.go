package parser

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/observability"
)

const (
	pdfHeaderMarker   = "%PDF-"
	fdfHeaderMarker   = "%FDF-"
	pdfDefaultVersion = 1.4
	fdfDefaultVersion = 1.0
)

// parseHeader locates the %PDF- (or %FDF-) header, tolerating junk before
// it, and records the header byte offset that translates every stored
// offset in the document.
func (p *Parser) parseHeader() error {
	found, err := p.parseHeaderMarker(pdfHeaderMarker, pdfDefaultVersion)
	if err != nil {
		return err
	}
	if !found {
		found, err = p.parseHeaderMarker(fdfHeaderMarker, fdfDefaultVersion)
		if err != nil {
			return err
		}
	}
	if !found {
		if p.record != nil {
			p.record.HeaderPresent = false
			p.version = pdfDefaultVersion
			p.headerOffset = 0
			return nil
		}
		return ErrMalformedHeader
	}
	return nil
}

func (p *Parser) parseHeaderMarker(marker string, defaultVersion float32) (bool, error) {
	if err := p.c.Seek(0); err != nil {
		return false, err
	}
	lineStart := int64(0)
	line, err := p.c.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	for !strings.Contains(line, marker) {
		// a line starting with a digit means data already began; the
		// version cannot be further down
		if len(line) > 0 && cursor.IsDigit(line[0]) {
			return false, nil
		}
		lineStart = p.c.Position()
		line, err = p.c.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
	}
	idx := strings.Index(line, marker)
	p.headerOffset = lineStart + int64(idx)

	version := defaultVersion
	rest := line[idx+len(marker):]
	digits := rest
	for i := 0; i < len(rest); i++ {
		if !cursor.IsDigit(rest[i]) && rest[i] != '.' {
			digits = rest[:i]
			break
		}
	}
	if v, err := strconv.ParseFloat(digits, 32); err == nil {
		version = float32(v)
	} else {
		p.cfg.Logger.Debug("cannot parse header version, using default",
			observability.String("header", line))
	}
	p.version = version

	if p.record != nil {
		p.checkHeaderComment()
	}
	return true, p.c.Seek(0)
}

// checkHeaderComment captures the four binary-comment bytes of the line
// after the header, or -1 each when the comment is missing or short.
func (p *Parser) checkHeaderComment() {
	comment, err := p.c.ReadLine()
	valid := err == nil && len(comment) > 0 && comment[0] == '%' && len(comment) >= 5
	if !valid {
		return
	}
	for i := 0; i < 4; i++ {
		p.record.HeaderCommentBytes[i] = int(comment[i+1])
	}
}
