package textpipe

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wrapWordXML(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
}

func TestExtractDocxParagraphs(t *testing.T) {
	// WHAT: w:p paragraphs concatenate their w:t runs in order.
	// WHY: Run splitting inside a paragraph is a Word artifact, not structure.
	xml := wrapWordXML(
		`<w:p><w:r><w:t>Первый </w:t></w:r><w:r><w:t>абзац</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>`)
	paragraphs, err := extractDocxParagraphs(buildDocx(t, xml))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []string{"Первый абзац", "Second paragraph"}
	if len(paragraphs) != 2 || paragraphs[0] != want[0] || paragraphs[1] != want[1] {
		t.Fatalf("paragraphs = %v, want %v", paragraphs, want)
	}
}

func TestExtractDocxParagraphs_TabsAndBreaks(t *testing.T) {
	xml := wrapWordXML(
		`<w:p><w:r><w:t>a</w:t><w:tab/><w:t>b</w:t><w:br/><w:t>c</w:t></w:r></w:p>`)
	paragraphs, err := extractDocxParagraphs(buildDocx(t, xml))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(paragraphs) != 1 || paragraphs[0] != "a\tb\nc" {
		t.Fatalf("paragraphs = %q", paragraphs)
	}
}

func TestExtractDocxParagraphs_EmptySkipped(t *testing.T) {
	xml := wrapWordXML(
		`<w:p><w:r><w:t>content</w:t></w:r></w:p>` +
			`<w:p></w:p>` +
			`<w:p><w:r><w:t>   </w:t></w:r></w:p>`)
	paragraphs, err := extractDocxParagraphs(buildDocx(t, xml))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(paragraphs) != 1 || paragraphs[0] != "content" {
		t.Fatalf("paragraphs = %v", paragraphs)
	}
}

func TestExtractDocxParagraphs_NoParagraphs(t *testing.T) {
	// WHAT: A document.xml without any w:p fails loudly.
	// WHY: Silence here would turn a corrupt docx into an empty success.
	xml := wrapWordXML("")
	if _, err := extractDocxParagraphs(buildDocx(t, xml)); err == nil {
		t.Fatal("paragraph-free document accepted")
	}
}

func TestExtractDocxParagraphs_MissingDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/other.xml")
	w.Write([]byte("<x/>"))
	zw.Close()

	_, err := extractDocxParagraphs(buf.Bytes())
	if err == nil || !strings.Contains(err.Error(), "document.xml") {
		t.Fatalf("err = %v", err)
	}
}

func TestExtractDocxParagraphs_NotAZip(t *testing.T) {
	if _, err := extractDocxParagraphs([]byte("PK\x03\x04 truncated junk")); err == nil {
		t.Fatal("broken archive accepted")
	}
}
