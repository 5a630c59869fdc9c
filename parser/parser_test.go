package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/veraPDF/pdfbox/ir/raw"
	"github.com/veraPDF/pdfbox/recovery"
	"github.com/veraPDF/pdfbox/xref"
)

// builder assembles synthetic PDFs with tracked object offsets.
type builder struct {
	buf     bytes.Buffer
	offsets map[int64]int64
}

func newBuilder(header string) *builder {
	b := &builder{offsets: make(map[int64]int64)}
	b.buf.WriteString(header)
	return b
}

func (b *builder) obj(num int64, body string) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *builder) raw(s string) { b.buf.WriteString(s) }

func buildMinimalPDF() ([]byte, map[int64]int64, int64) {
	b := newBuilder("%PDF-1.4\n")
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R >>")
	xrefOffset := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "xref\n0 4\n0000000000 65535 f \n")
	for n := int64(1); n <= 3; n++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[n])
	}
	b.raw("trailer\n<< /Root 1 0 R /Size 4 >>\n")
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.buf.Bytes(), b.offsets, xrefOffset
}

func mustParse(t *testing.T, data []byte, mode recovery.Mode) *Document {
	t.Helper()
	doc, err := ParseBytes(data, Config{Mode: mode})
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	return doc
}

func resolveDict(t *testing.T, doc *Document, num int64) *raw.DictObj {
	t.Helper()
	obj, err := doc.Resolve(raw.ObjectKey{Num: num})
	if err != nil {
		t.Fatalf("Resolve(%d 0): %v", num, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		t.Fatalf("Resolve(%d 0) = %T, want dictionary", num, obj)
	}
	return dict
}

func TestMinimalDocument(t *testing.T) {
	data, offsets, xrefOffset := buildMinimalPDF()
	doc := mustParse(t, data, recovery.Lenient())

	if doc.Version != 1.4 {
		t.Errorf("Version = %g, want 1.4", doc.Version)
	}
	if doc.HeaderOffset != 0 {
		t.Errorf("HeaderOffset = %d, want 0", doc.HeaderOffset)
	}
	if doc.IsXRefStream {
		t.Error("IsXRefStream = true for classic table")
	}
	if doc.IsEncrypted || doc.IsLinearized {
		t.Error("unexpected encryption/linearization flags")
	}
	if doc.StartXref != xrefOffset {
		t.Errorf("StartXref = %d, want %d", doc.StartXref, xrefOffset)
	}

	wantXref := map[raw.ObjectKey]xref.Entry{
		{Num: 1}: xref.InUse(offsets[1]),
		{Num: 2}: xref.InUse(offsets[2]),
		{Num: 3}: xref.InUse(offsets[3]),
	}
	if diff := cmp.Diff(wantXref, doc.XRef); diff != "" {
		t.Errorf("xref mismatch (-want +got):\n%s", diff)
	}

	catalog := resolveDict(t, doc, 1)
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("catalog /Type = %q", typ)
	}
	if len(doc.Diagnostics()) != 0 {
		t.Errorf("unexpected diagnostics: %v", doc.Diagnostics())
	}
}

// any document accepted by strict mode parses identically in lenient mode
func TestStrictAcceptsValidDocument(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	strict := mustParse(t, data, recovery.Strict())
	lenient := mustParse(t, data, recovery.Lenient())

	for n := int64(1); n <= 3; n++ {
		st, _ := resolveDict(t, strict, n).GetName("Type")
		lt, _ := resolveDict(t, lenient, n).GetName("Type")
		if st != lt {
			t.Errorf("object %d: strict /Type %q != lenient %q", n, st, lt)
		}
	}
}

func TestIdempotentResolve(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	doc := mustParse(t, data, recovery.Lenient())
	a, err := doc.Resolve(raw.ObjectKey{Num: 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := doc.Resolve(raw.ObjectKey{Num: 2})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("repeated Resolve returned different values")
	}
}

func TestMissingKeyResolvesToNull(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	doc := mustParse(t, data, recovery.Lenient())
	obj, err := doc.Resolve(raw.ObjectKey{Num: 99})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := obj.(raw.NullObj); !ok {
		t.Errorf("missing key = %T, want null", obj)
	}
}

func TestObjectsByType(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	doc := mustParse(t, data, recovery.Lenient())
	pages, err := doc.ObjectsByType("Page")
	if err != nil {
		t.Fatal(err)
	}
	want := []raw.ObjectKey{{Num: 3}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Errorf("ObjectsByType (-want +got):\n%s", diff)
	}
}

// buildXrefStreamPDF writes the same logical document as buildMinimalPDF
// with a PDF 1.5 cross-reference stream.
func buildXrefStreamPDF() ([]byte, map[int64]int64) {
	b := newBuilder("%PDF-1.5\n")
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R >>")
	xrefOffset := int64(b.buf.Len())
	b.offsets[4] = xrefOffset

	// rows: W [1 2 1], entries 0..4
	var rows bytes.Buffer
	writeRow := func(typ byte, f2 int64, f3 byte) {
		rows.WriteByte(typ)
		rows.WriteByte(byte(f2 >> 8))
		rows.WriteByte(byte(f2))
		rows.WriteByte(f3)
	}
	writeRow(0, 0, 255) // object 0: free
	for n := int64(1); n <= 3; n++ {
		writeRow(1, b.offsets[n], 0)
	}
	writeRow(1, xrefOffset, 0) // the xref stream itself

	fmt.Fprintf(&b.buf,
		"4 0 obj\n<< /Type /XRef /Size 5 /W [1 2 1] /Root 1 0 R /Length %d >>\nstream\n",
		rows.Len())
	b.buf.Write(rows.Bytes())
	b.raw("\nendstream\nendobj\n")
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.buf.Bytes(), b.offsets
}

func TestXrefStreamDocument(t *testing.T) {
	data, offsets := buildXrefStreamPDF()
	doc := mustParse(t, data, recovery.Lenient())

	if !doc.IsXRefStream {
		t.Error("IsXRefStream = false for xref stream document")
	}
	for n := int64(1); n <= 3; n++ {
		entry, ok := doc.XRef[raw.ObjectKey{Num: n}]
		if !ok || entry.Kind != xref.KindInUse || entry.Offset != offsets[n] {
			t.Errorf("entry %d = %+v, want InUse(%d)", n, entry, offsets[n])
		}
	}
	catalog := resolveDict(t, doc, 1)
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("catalog /Type = %q", typ)
	}
}

// buildHybridPDF carries a classic table plus an /XRefStm stream that
// contributes an object-stream entry.
func buildHybridPDF() ([]byte, map[int64]int64) {
	b := newBuilder("%PDF-1.5\n")
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R >>")

	// object stream holding object 6
	objStmBody := "6 0 << /Type /Annot >>"
	first := len("6 0 ")
	b.offsets[4] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "4 0 obj\n<< /Type /ObjStm /N 1 /First %d /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		first, len(objStmBody), objStmBody)

	// xref stream for objects 4..6
	b.offsets[5] = int64(b.buf.Len())
	var rows bytes.Buffer
	writeRow := func(typ byte, f2 int64, f3 byte) {
		rows.WriteByte(typ)
		rows.WriteByte(byte(f2 >> 8))
		rows.WriteByte(byte(f2))
		rows.WriteByte(f3)
	}
	writeRow(1, b.offsets[4], 0) // 4: the object stream container
	writeRow(1, b.offsets[5], 0) // 5: this xref stream
	writeRow(2, 4, 0)            // 6: compressed in 4, index 0
	fmt.Fprintf(&b.buf, "5 0 obj\n<< /Type /XRef /Size 7 /Index [4 3] /W [1 2 1] /Length %d >>\nstream\n", rows.Len())
	b.buf.Write(rows.Bytes())
	b.raw("\nendstream\nendobj\n")

	xrefOffset := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "xref\n0 4\n0000000000 65535 f \n")
	for n := int64(1); n <= 3; n++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[n])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Root 1 0 R /Size 7 /XRefStm %d >>\n", b.offsets[5])
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.buf.Bytes(), b.offsets
}

func TestHybridXref(t *testing.T) {
	data, offsets := buildHybridPDF()
	doc := mustParse(t, data, recovery.Lenient())

	if doc.IsXRefStream {
		t.Error("IsXRefStream = true; startxref points at a classic table")
	}

	// table entries and stream entries merged into one section
	if e := doc.XRef[raw.ObjectKey{Num: 1}]; e.Offset != offsets[1] {
		t.Errorf("table entry 1 = %+v", e)
	}
	e, ok := doc.XRef[raw.ObjectKey{Num: 6}]
	if !ok || e.Kind != xref.KindCompressed || e.StreamNum != 4 {
		t.Fatalf("compressed entry 6 = %+v", e)
	}
	// the container of every compressed entry must itself be in use
	container, ok := doc.XRef[raw.ObjectKey{Num: e.StreamNum}]
	if !ok || container.Kind != xref.KindInUse {
		t.Errorf("container entry = %+v", container)
	}

	annot := resolveDict(t, doc, 6)
	if typ, _ := annot.GetName("Type"); typ != "Annot" {
		t.Errorf("compressed object /Type = %q", typ)
	}
}

func TestBrokenStartxrefLenient(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	// corrupt the startxref value
	broken := strings.Replace(string(data), fmt.Sprintf("startxref\n%d\n", findXrefOffset(data)), "startxref\n3\n", 1)

	doc := mustParse(t, []byte(broken), recovery.Lenient())
	catalog := resolveDict(t, doc, 1)
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("catalog /Type = %q", typ)
	}
	found := false
	for _, d := range doc.Diagnostics() {
		if strings.Contains(d.Error(), "fixed reference") {
			found = true
		}
	}
	if !found {
		t.Errorf("no 'fixed reference' diagnostic, got %v", doc.Diagnostics())
	}
}

func findXrefOffset(data []byte) int64 {
	i := bytes.Index(data, []byte("\nxref\n"))
	return int64(i + 1)
}

func TestBrokenStartxrefStrict(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	broken := strings.Replace(string(data), fmt.Sprintf("startxref\n%d\n", findXrefOffset(data)), "startxref\n3\n", 1)
	if _, err := ParseBytes([]byte(broken), Config{Mode: recovery.Strict()}); err == nil {
		t.Fatal("strict mode accepted corrupt startxref")
	}
}

func TestRebuildWithoutStartxref(t *testing.T) {
	b := newBuilder("%PDF-1.4\n")
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Count 0 >>")
	// no xref, no trailer, no startxref, no %%EOF

	doc := mustParse(t, b.buf.Bytes(), recovery.Lenient())
	catalog := resolveDict(t, doc, 1)
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("rebuilt catalog /Type = %q", typ)
	}
	root, ok := doc.Trailer.Get("Root")
	if !ok {
		t.Fatal("rebuilt trailer has no /Root")
	}
	if ref, ok := root.(raw.RefObj); !ok || ref.Key.Num != 1 {
		t.Errorf("rebuilt /Root = %+v", root)
	}
}

func buildLengthCyclePDF() []byte {
	b := newBuilder("%PDF-1.4\n")
	b.obj(1, "<< /Type /Catalog >>")
	b.offsets[5] = int64(b.buf.Len())
	b.raw("5 0 obj\n<< /Length 6 0 R >>\nstream\nPAYLOAD\nendstream\nendobj\n")
	b.offsets[6] = int64(b.buf.Len())
	b.raw("6 0 obj\n<< /Length 5 0 R >>\nstream\nQQ\nendstream\nendobj\n")

	xrefOffset := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", b.offsets[1])
	fmt.Fprintf(&b.buf, "5 2\n%010d 00000 n \n%010d 00000 n \n", b.offsets[5], b.offsets[6])
	b.raw("trailer\n<< /Root 1 0 R /Size 7 >>\n")
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.buf.Bytes()
}

func TestLengthCycleStrict(t *testing.T) {
	doc := mustParse(t, buildLengthCyclePDF(), recovery.Strict())
	_, err := doc.Resolve(raw.ObjectKey{Num: 5})
	if !errors.Is(err, ErrStreamLength) {
		t.Fatalf("Resolve(5 0) err = %v, want ErrStreamLength", err)
	}
}

func TestLengthCycleLenient(t *testing.T) {
	doc := mustParse(t, buildLengthCyclePDF(), recovery.Lenient())
	obj, err := doc.Resolve(raw.ObjectKey{Num: 5})
	if err != nil {
		t.Fatal(err)
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		t.Fatalf("Resolve(5 0) = %T, want stream", obj)
	}
	if got := string(stream.RawData()); got != "PAYLOAD" {
		t.Errorf("payload = %q, want PAYLOAD", got)
	}
	if len(doc.Diagnostics()) == 0 {
		t.Error("no diagnostics for length cycle recovery")
	}
}

// buildIncrementalPDF writes a base revision plus an update that rewrites
// object 2, chained through /Prev.
func buildIncrementalPDF() []byte {
	b := newBuilder("%PDF-1.4\n")
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Count 0 >>")
	xref1 := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "xref\n0 3\n0000000000 65535 f \n")
	for n := int64(1); n <= 2; n++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[n])
	}
	b.raw("trailer\n<< /Root 1 0 R /Size 3 >>\n")
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xref1)

	// incremental update: object 2 gains a /Count
	b.obj(2, "<< /Type /Pages /Count 1 >>")
	xref2 := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "xref\n2 1\n%010d 00000 n \n", b.offsets[2])
	fmt.Fprintf(&b.buf, "trailer\n<< /Root 1 0 R /Size 3 /Prev %d >>\n", xref1)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xref2)
	return b.buf.Bytes()
}

func TestIncrementalUpdatePrevChain(t *testing.T) {
	doc := mustParse(t, buildIncrementalPDF(), recovery.Lenient())
	pages := resolveDict(t, doc, 2)
	if count, _ := pages.GetInt("Count"); count != 1 {
		t.Errorf("updated object /Count = %d, want the newest revision's 1", count)
	}
	catalog := resolveDict(t, doc, 1)
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("base revision object lost: /Type = %q", typ)
	}
	if doc.FirstPageTrailer == doc.LastTrailer {
		t.Error("first and last trailer identical across two revisions")
	}
	if _, ok := doc.LastTrailer.GetInt("Prev"); !ok {
		t.Error("newest trailer lost its /Prev")
	}
}

// the /Prev chain is bounded by MaxXRefDepth
func TestPrevChainDepthLimit(t *testing.T) {
	cfg := Config{Mode: recovery.Lenient()}
	cfg.Limits.MaxXRefDepth = 1
	doc, err := ParseBytes(buildIncrementalPDF(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	// only the newest section was read; object 1 lives in the base one
	obj, err := doc.Resolve(raw.ObjectKey{Num: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := obj.(raw.NullObj); !ok {
		t.Errorf("object from truncated chain = %T, want null", obj)
	}
	found := false
	for _, d := range doc.Diagnostics() {
		if strings.Contains(d.Error(), "/Prev chain longer") {
			found = true
		}
	}
	if !found {
		t.Errorf("no depth-limit diagnostic, got %v", doc.Diagnostics())
	}
}

// offsets keep working when junk precedes the header: every xref offset is
// translated by the header offset.
func TestJunkBeforeHeader(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	junk := "JUNKJUNK\n"
	doc := mustParse(t, append([]byte(junk), data...), recovery.Lenient())

	if doc.HeaderOffset != int64(len(junk)) {
		t.Errorf("HeaderOffset = %d, want %d", doc.HeaderOffset, len(junk))
	}
	catalog := resolveDict(t, doc, 1)
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("catalog /Type = %q", typ)
	}
	// stored offsets stay relative: offset + header offset is in bounds
	for key, e := range doc.XRef {
		if e.Kind != xref.KindInUse {
			continue
		}
		abs := e.Offset + doc.HeaderOffset
		if abs < 0 || abs >= int64(len(data)+len(junk)) {
			t.Errorf("entry %v out of bounds after translation: %d", key, abs)
		}
	}
}

func TestDocumentClose(t *testing.T) {
	data, _, _ := buildMinimalPDF()
	doc := mustParse(t, data, recovery.Lenient())
	if err := doc.Close(); err != nil {
		t.Fatal(err)
	}
}
