package scanner

import (
	"bytes"
	"testing"

	"github.com/veraPDF/pdfbox/cursor"
	"github.com/veraPDF/pdfbox/recovery"
)

func newScanner(in string, mode recovery.Mode) *Scanner {
	return New(cursor.NewBytes([]byte(in)), Config{Mode: mode, Diags: &recovery.Diagnostics{}})
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		in    string
		isInt bool
		i     int64
		f     float64
	}{
		{"0", true, 0, 0},
		{"42", true, 42, 0},
		{"+17", true, 17, 0},
		{"-98", true, -98, 0},
		{"34.5", false, 0, 34.5},
		{"-3.62", false, 0, -3.62},
		{"+123.6", false, 0, 123.6},
		{".5", false, 0, 0.5},
		{"4.", false, 0, 4},
		{"1e2", false, 0, 100},
		{"1.5e-2", false, 0, 0.015},
	}
	for _, tt := range tests {
		s := newScanner(tt.in, recovery.Lenient())
		tok, err := s.Next()
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if tok.Type != TokenNumber {
			t.Fatalf("%q: type = %v, want number", tt.in, tok.Type)
		}
		if tok.IsInt != tt.isInt {
			t.Errorf("%q: IsInt = %v", tt.in, tok.IsInt)
		}
		if tt.isInt && tok.Int != tt.i {
			t.Errorf("%q: Int = %d, want %d", tt.in, tok.Int, tt.i)
		}
		if !tt.isInt && tok.Float != tt.f {
			t.Errorf("%q: Float = %g, want %g", tt.in, tok.Float, tt.f)
		}
	}
}

func TestNames(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/Name", "Name"},
		{"/A;Name_With-Stuff", "A;Name_With-Stuff"},
		{"/paired#28#29parentheses", "paired()parentheses"},
		{"/A#42", "AB"},
		{"/Lime#20Green", "Lime Green"},
		// '#' not followed by two hex digits stays literal (pre-1.2 files)
		{"/Not#Hex", "Not#Hex"},
		{"/Name/Other", "Name"},
	}
	for _, tt := range tests {
		s := newScanner(tt.in, recovery.Lenient())
		tok, err := s.Next()
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if tok.Type != TokenName {
			t.Fatalf("%q: type = %v, want name", tt.in, tok.Type)
		}
		if tok.Str != tt.want {
			t.Errorf("%q: name = %q, want %q", tt.in, tok.Str, tt.want)
		}
	}
}

func TestLiteralStrings(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"(plain)", "plain"},
		{"(nested (parens) kept)", "nested (parens) kept"},
		{"(esc \\( \\) \\\\ chars)", "esc ( ) \\ chars"},
		{"(line\\nbreak)", "line\nbreak"},
		{"(tab\\there)", "tab\there"},
		{"(octal \\101\\102)", "octal AB"},
		{"(two digit \\12)", "two digit \n"},
		{"(continued \\\nline)", "continued line"},
		{"(dropped \\q backslash)", "dropped q backslash"},
	}
	for _, tt := range tests {
		s := newScanner(tt.in, recovery.Lenient())
		tok, err := s.Next()
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if string(tok.Bytes) != tt.want {
			t.Errorf("%q = %q, want %q", tt.in, tok.Bytes, tt.want)
		}
		if tok.Hex {
			t.Errorf("%q flagged hex", tt.in)
		}
	}
}

// an unbalanced ')' directly before "CR LF /" or "CR /" ends the string;
// some writers emit this broken pattern before the next dictionary key.
func TestLiteralStringUnbalancedCloseRecovery(t *testing.T) {
	in := "((broken)\r/Next"
	s := newScanner(in, recovery.Lenient())
	tok, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(tok.Bytes) != "(broken" {
		t.Fatalf("recovered string = %q", tok.Bytes)
	}
	next, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if next.Type != TokenName || next.Str != "Next" {
		t.Fatalf("token after recovery = %+v", next)
	}
}

func TestHexStrings(t *testing.T) {
	s := newScanner("<48 65 6C6C 6F>", recovery.Lenient())
	tok, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !tok.Hex || string(tok.Bytes) != "Hello" {
		t.Fatalf("hex = %q, Hex=%v", tok.Bytes, tok.Hex)
	}

	// odd nibble count pads with zero
	s = newScanner("<FAB>", recovery.Lenient())
	tok, _ = s.Next()
	if !bytes.Equal(tok.Bytes, []byte{0xFA, 0xB0}) {
		t.Fatalf("odd hex = % X", tok.Bytes)
	}
}

func TestHexStringInvalidCharLenient(t *testing.T) {
	// invalid char aborts to a read-to-'>' with the unpaired nibble dropped
	s := newScanner("<414Z42>/Next", recovery.Lenient())
	tok, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tok.Bytes, []byte{0x41}) {
		t.Fatalf("recovered hex = % X", tok.Bytes)
	}
	next, _ := s.Next()
	if next.Type != TokenName {
		t.Fatalf("token after hex recovery = %+v", next)
	}
}

func TestHexStringValidationSignals(t *testing.T) {
	s := newScanner("<41G2>", recovery.Validation())
	tok, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.HexOnly {
		t.Error("HexOnly = true for string with invalid char")
	}
	if tok.HexCount != 4 {
		t.Errorf("HexCount = %d, want 4", tok.HexCount)
	}

	s = newScanner("<4142>", recovery.Validation())
	tok, _ = s.Next()
	if !tok.HexOnly || tok.HexCount != 4 {
		t.Errorf("clean hex: HexOnly=%v HexCount=%d", tok.HexOnly, tok.HexCount)
	}
}

func TestRefs(t *testing.T) {
	s := newScanner("12 0 R", recovery.Lenient())
	tok, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.Type != TokenRef || tok.Num != 12 || tok.Gen != 0 {
		t.Fatalf("ref = %+v", tok)
	}

	// two numbers without R stay separate tokens
	s = newScanner("12 13 /X", recovery.Lenient())
	first, _ := s.Next()
	second, _ := s.Next()
	if first.Type != TokenNumber || first.Int != 12 {
		t.Fatalf("first = %+v", first)
	}
	if second.Type != TokenNumber || second.Int != 13 {
		t.Fatalf("second = %+v", second)
	}

	// "R" starting a longer keyword is not a reference
	s = newScanner("1 0 Root", recovery.Lenient())
	tok, _ = s.Next()
	if tok.Type != TokenNumber {
		t.Fatalf("got %+v, want plain number before Root keyword", tok)
	}
}

func TestKeywordsAndAtoms(t *testing.T) {
	s := newScanner("true false null obj endobj stream << >> [ ]", recovery.Lenient())
	wantTypes := []TokenType{
		TokenBoolean, TokenBoolean, TokenNull, TokenKeyword, TokenKeyword,
		TokenKeyword, TokenDict, TokenKeyword, TokenArray, TokenKeyword,
	}
	for i, want := range wantTypes {
		tok, err := s.Next()
		if err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
		if tok.Type != want {
			t.Fatalf("token %d type = %v, want %v", i, tok.Type, want)
		}
	}
}

func TestTokenPositions(t *testing.T) {
	s := newScanner("  <4142>", recovery.Lenient())
	tok, _ := s.Next()
	if tok.Pos != 2 {
		t.Errorf("Pos = %d, want 2", tok.Pos)
	}
	if tok.End != 8 {
		t.Errorf("End = %d, want 8", tok.End)
	}
}

func TestObjectNumberBounds(t *testing.T) {
	s := newScanner("10000000000", recovery.Lenient())
	if _, err := s.ReadObjectNumber(); err == nil {
		t.Error("object number at upper bound accepted")
	}
	s = newScanner("9999999999", recovery.Lenient())
	if n, err := s.ReadObjectNumber(); err != nil || n != 9999999999 {
		t.Errorf("ReadObjectNumber = %d, %v", n, err)
	}
	s = newScanner("65536", recovery.Lenient())
	if _, err := s.ReadGenerationNumber(); err == nil {
		t.Error("generation 65536 accepted")
	}
	s = newScanner("65535", recovery.Lenient())
	if g, err := s.ReadGenerationNumber(); err != nil || g != 65535 {
		t.Errorf("ReadGenerationNumber = %d, %v", g, err)
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	s := newScanner("% header comment\n42", recovery.Lenient())
	tok, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.Type != TokenNumber || tok.Int != 42 {
		t.Fatalf("token after comment = %+v", tok)
	}
}
