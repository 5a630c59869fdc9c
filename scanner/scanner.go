// Package scanner reads PDF lexical tokens from a cursor: numbers, names,
// strings, booleans, null and keywords. Structure (dictionaries, arrays,
// streams) is assembled one level up by the object grammar.
package scanner

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/observability"
	"github.com/veraPDF/pdfbox/recovery"
)

type TokenType int

const (
	TokenNumber  TokenType = iota
	TokenName              // /Name, decoded
	TokenString            // literal or hex
	TokenBoolean           // true/false
	TokenNull              // null
	TokenRef               // N G R
	TokenDict              // '<<'
	TokenArray             // '['
	TokenKeyword           // obj, endobj, stream, >>, ], R, ...
)

type Token struct {
	Type TokenType
	Pos  int64 // byte offset of the first byte of the token
	End  int64 // byte offset just past the token

	Str   string // keyword text or decoded name
	Bytes []byte // string payload

	Int   int64
	Float float64
	IsInt bool
	Bool  bool

	Num int64 // ref object number
	Gen int   // ref generation

	Hex      bool
	HexCount int64 // validation: hex chars seen (incl. invalid ones)
	HexOnly  bool  // validation: no invalid chars between < and >
}

// MaxObjectNumber bounds object numbers; generations fit in 16 bits.
const (
	MaxObjectNumber     = int64(10_000_000_000)
	MaxGenerationNumber = 65535
)

var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrInvalidNumber      = errors.New("invalid number")
)

type Config struct {
	Mode            recovery.Mode
	MaxStringLength int64
	Diags           *recovery.Diagnostics
	Logger          observability.Logger
}

type Scanner struct {
	c   *cursor.Cursor
	cfg Config
	loc recovery.Location
}

func New(c *cursor.Cursor, cfg Config) *Scanner {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Scanner{c: c, cfg: cfg}
}

func (s *Scanner) Cursor() *cursor.Cursor { return s.c }

// SetLocation attaches object context to subsequent diagnostics.
func (s *Scanner) SetLocation(loc recovery.Location) { s.loc = loc }

func (s *Scanner) warn(err error) {
	loc := s.loc
	loc.ByteOffset = s.c.Position()
	s.cfg.Diags.Add(loc, err)
	s.cfg.Logger.Warn("scanner recovery", observability.Int64("offset", loc.ByteOffset), observability.Error("err", err))
}

// Next returns the next token. io.EOF signals a clean end of input.
func (s *Scanner) Next() (Token, error) {
	s.c.SkipSpaces()
	b := s.c.Peek()
	if b < 0 {
		return Token{}, io.EOF
	}
	start := s.c.Position()
	switch byte(b) {
	case '<':
		if s.c.PeekAt(1) == '<' {
			s.c.Seek(start + 2)
			return Token{Type: TokenDict, Str: "<<", Pos: start, End: start + 2}, nil
		}
		return s.scanHexString()
	case '>':
		if s.c.PeekAt(1) == '>' {
			s.c.Seek(start + 2)
			return Token{Type: TokenKeyword, Str: ">>", Pos: start, End: start + 2}, nil
		}
		s.c.ReadByte()
		return Token{Type: TokenKeyword, Str: ">", Pos: start, End: start + 1}, nil
	case '[':
		s.c.ReadByte()
		return Token{Type: TokenArray, Str: "[", Pos: start, End: start + 1}, nil
	case ']':
		s.c.ReadByte()
		return Token{Type: TokenKeyword, Str: "]", Pos: start, End: start + 1}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(byte(b)) {
		return s.scanNumberOrRef()
	}
	if isRegular(byte(b)) {
		return s.scanKeyword()
	}
	s.c.ReadByte()
	return Token{Type: TokenKeyword, Str: string(byte(b)), Pos: start, End: start + 1}, nil
}

func isNumberStart(b byte) bool {
	return b == '+' || b == '-' || b == '.' || cursor.IsDigit(b)
}

func isRegular(b byte) bool { return !cursor.IsDelimiter(b) }

func (s *Scanner) scanName() (Token, error) {
	start := s.c.Position()
	s.c.ReadByte() // '/'
	var out []byte
	for {
		b := s.c.Peek()
		if b < 0 || cursor.IsDelimiter(byte(b)) {
			break
		}
		if b == '#' {
			h1, h2 := s.c.PeekAt(1), s.c.PeekAt(2)
			if h1 >= 0 && h2 >= 0 && cursor.IsHexDigit(byte(h1)) && cursor.IsHexDigit(byte(h2)) {
				s.c.Seek(s.c.Position() + 3)
				out = append(out, fromHex(byte(h1))<<4|fromHex(byte(h2)))
				continue
			}
			// pre-1.2 documents use '#' as a plain name character
		}
		out = append(out, byte(b))
		s.c.ReadByte()
	}
	return Token{Type: TokenName, Str: string(out), Pos: start, End: s.c.Position()}, nil
}

func fromHex(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	}
	return 0
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.c.Position()
	s.c.ReadByte() // '('
	var buf []byte
	depth := 1
	for {
		b := s.c.ReadByte()
		if b < 0 {
			if s.cfg.Mode.IsStrict() {
				return Token{}, ErrUnterminatedString
			}
			s.warn(ErrUnterminatedString)
			break
		}
		c := byte(b)
		if c == '\\' {
			esc := s.c.ReadByte()
			if esc < 0 {
				break
			}
			e := byte(esc)
			switch {
			case e == '\r':
				if s.c.Peek() == '\n' {
					s.c.ReadByte()
				}
			case e == '\n':
				// line continuation
			case e >= '0' && e <= '7':
				val := int(e - '0')
				for k := 0; k < 2; k++ {
					d := s.c.Peek()
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(byte(d)-'0')
					s.c.ReadByte()
				}
				buf = append(buf, byte(val))
			default:
				buf = append(buf, translateEscape(e))
			}
			continue
		}
		if c == '(' {
			depth++
			buf = append(buf, c)
			continue
		}
		if c == ')' {
			depth--
			if depth == 0 {
				break
			}
			// Some writers emit unbalanced closers before the next
			// dictionary key; ") CR LF /" and ") CR /" end the string.
			if s.closedByNextKey() {
				depth = 0
				break
			}
			buf = append(buf, c)
			continue
		}
		buf = append(buf, c)
		if s.cfg.MaxStringLength > 0 && int64(len(buf)) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	if depth != 0 && s.cfg.Mode.IsStrict() {
		return Token{}, ErrUnterminatedString
	}
	return Token{Type: TokenString, Bytes: buf, Pos: start, End: s.c.Position()}, nil
}

func (s *Scanner) closedByNextKey() bool {
	if s.c.Peek() != '\r' {
		return false
	}
	if s.c.PeekAt(1) == '\n' {
		return s.c.PeekAt(2) == '/'
	}
	return s.c.PeekAt(1) == '/'
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.c.Position()
	s.c.ReadByte() // '<'
	var nibbles []byte
	hexCount := int64(0)
	hexOnly := true
	closed := false
	for {
		b := s.c.ReadByte()
		if b < 0 {
			break
		}
		c := byte(b)
		if c == '>' {
			closed = true
			break
		}
		if cursor.IsWhitespace(c) {
			continue
		}
		if cursor.IsHexDigit(c) {
			nibbles = append(nibbles, c)
			hexCount++
			continue
		}
		if s.cfg.Mode.RecordDiagnostics {
			// validation keeps scanning to '>' but flags the string
			hexOnly = false
			hexCount++
			continue
		}
		if s.cfg.Mode.IsStrict() {
			return Token{}, fmt.Errorf("invalid character %q in hex string", c)
		}
		// lenient: discard a trailing unpaired nibble and skip to '>'
		s.warn(fmt.Errorf("invalid character %q in hex string", c))
		if len(nibbles)%2 != 0 {
			nibbles = nibbles[:len(nibbles)-1]
		}
		for {
			b = s.c.ReadByte()
			if b < 0 {
				return Token{}, ErrUnterminatedString
			}
			if byte(b) == '>' {
				closed = true
				break
			}
		}
		break
	}
	if !closed {
		if s.cfg.Mode.IsStrict() {
			return Token{}, ErrUnterminatedString
		}
		s.warn(ErrUnterminatedString)
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	tok := Token{Type: TokenString, Bytes: out, Hex: true, Pos: start, End: s.c.Position()}
	if s.cfg.Mode.RecordDiagnostics {
		tok.HexCount = hexCount
		tok.HexOnly = hexOnly
	}
	return tok, nil
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.c.Position()
	var buf []byte
	for {
		b := s.c.Peek()
		if b < 0 || cursor.IsDelimiter(byte(b)) {
			break
		}
		buf = append(buf, byte(b))
		s.c.ReadByte()
	}
	kw := string(buf)
	end := s.c.Position()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start, End: end}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start, End: end}, nil
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start, End: end}, nil
	}
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.c.Position()
	first, err := s.scanNumber()
	if err != nil {
		return Token{}, err
	}
	if first.IsInt && first.Int >= 0 {
		afterFirst := s.c.Position()
		s.c.SkipSpaces()
		if cb := s.c.Peek(); cb >= 0 && cursor.IsDigit(byte(cb)) {
			second, err := s.scanNumber()
			if err == nil && second.IsInt && second.Int >= 0 && second.Int <= MaxGenerationNumber {
				s.c.SkipSpaces()
				if s.c.Peek() == 'R' {
					nb := s.c.PeekAt(1)
					if nb < 0 || cursor.IsDelimiter(byte(nb)) {
						s.c.ReadByte()
						return Token{
							Type: TokenRef,
							Num:  first.Int,
							Gen:  int(second.Int),
							Pos:  start,
							End:  s.c.Position(),
						}, nil
					}
				}
			}
		}
		s.c.Seek(afterFirst)
	}
	first.Pos = start
	return first, nil
}

// scanNumber reads one numeric token: optional sign, digits, an optional
// decimal point and an optional exponent.
func (s *Scanner) scanNumber() (Token, error) {
	start := s.c.Position()
	var buf []byte
	seenDigit, seenDot, seenExp := false, false, false
	for {
		b := s.c.Peek()
		if b < 0 {
			break
		}
		c := byte(b)
		switch {
		case cursor.IsDigit(c):
			seenDigit = true
		case (c == '+' || c == '-') && len(buf) == 0:
		case (c == '+' || c == '-') && (buf[len(buf)-1] == 'e' || buf[len(buf)-1] == 'E'):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			goto done
		}
		buf = append(buf, c)
		s.c.ReadByte()
	}
done:
	if !seenDigit {
		s.c.Seek(start)
		return Token{}, ErrInvalidNumber
	}
	end := s.c.Position()
	text := string(buf)
	if !seenDot && !seenExp {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start, End: end}, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidNumber, text)
	}
	return Token{Type: TokenNumber, Float: f, Pos: start, End: end}, nil
}

// ReadObjectNumber reads a bare object number, enforcing its bounds.
func (s *Scanner) ReadObjectNumber() (int64, error) {
	n, err := s.readDigits()
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= MaxObjectNumber {
		return 0, fmt.Errorf("object number out of range: %d", n)
	}
	return n, nil
}

// ReadGenerationNumber reads a bare generation number, enforcing its bounds.
func (s *Scanner) ReadGenerationNumber() (int, error) {
	n, err := s.readDigits()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > MaxGenerationNumber {
		return 0, fmt.Errorf("generation number out of range: %d", n)
	}
	return int(n), nil
}

// ReadLong reads a bare non-negative integer after optional whitespace.
func (s *Scanner) ReadLong() (int64, error) { return s.readDigits() }

func (s *Scanner) readDigits() (int64, error) {
	s.c.SkipSpaces()
	var buf []byte
	for {
		b := s.c.Peek()
		if b < 0 || !cursor.IsDigit(byte(b)) {
			break
		}
		buf = append(buf, byte(b))
		s.c.ReadByte()
	}
	if len(buf) == 0 {
		b := s.c.Peek()
		return 0, fmt.Errorf("%w: expected digit, got %q at offset %d", ErrInvalidNumber, b, s.c.Position())
	}
	return strconv.ParseInt(string(buf), 10, 64)
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		// includes ( ) and \ which map to themselves
		return c
	}
}
