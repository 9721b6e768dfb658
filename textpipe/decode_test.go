package textpipe

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func TestDecodeText_ValidUTF8ShortCircuits(t *testing.T) {
	// WHAT: Bytes that are already valid UTF-8 pass through untouched.
	// WHY: Strict UTF-8 must win outright; scoring only runs on broken input.
	in := "Привет, мир — already utf-8"
	text, enc := DecodeText([]byte(in))
	if enc != "utf-8" {
		t.Fatalf("encoding = %q, want utf-8", enc)
	}
	if text != in {
		t.Fatalf("text = %q, want %q", text, in)
	}
}

func TestDecodeText_Windows1251(t *testing.T) {
	// WHAT: cp1251-encoded Russian decodes back to the original string.
	// WHY: Legacy Windows uploads are the main non-UTF-8 case in practice.
	original := "Договор аренды помещения заключается сроком на одиннадцать месяцев"
	raw, err := charmap.Windows1251.NewEncoder().Bytes([]byte(original))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	text, enc := DecodeText(raw)
	if enc != "windows-1251" {
		t.Fatalf("encoding = %q, want windows-1251", enc)
	}
	if text != original {
		t.Fatalf("text = %q, want %q", text, original)
	}
}

func TestDecodeText_UTF16LE(t *testing.T) {
	original := "Сведения об участниках закупки"
	raw, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(original))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	text, enc := DecodeText(raw)
	if enc != "utf-16le" {
		t.Fatalf("encoding = %q, want utf-16le", enc)
	}
	if text != original {
		t.Fatalf("text = %q, want %q", text, original)
	}
}

func TestDecodeText_KOI8ProducesReadableCyrillic(t *testing.T) {
	// WHAT: koi8-r input decodes to a fully Cyrillic string.
	// WHY: Single-byte Cyrillic encodings overlap; the guess must at least
	// land in the right script even if the exact codepage is ambiguous.
	original := "протокол испытаний готовой продукции"
	raw, err := charmap.KOI8R.NewEncoder().Bytes([]byte(original))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	text, _ := DecodeText(raw)
	var cyr, other int
	for _, r := range text {
		if isCyrillic(r) {
			cyr++
		} else if r != ' ' {
			other++
		}
	}
	if cyr == 0 || other > cyr/4 {
		t.Fatalf("decoded text not predominantly Cyrillic: %q", text)
	}
}

func TestDecodeText_Deterministic(t *testing.T) {
	raw, _ := charmap.Windows1251.NewEncoder().Bytes([]byte("повторяемость результата"))
	t1, e1 := DecodeText(raw)
	t2, e2 := DecodeText(raw)
	if t1 != t2 || e1 != e2 {
		t.Fatalf("non-deterministic: (%q,%q) vs (%q,%q)", t1, e1, t2, e2)
	}
}

func TestScoreDecoding_PenalizesMojibake(t *testing.T) {
	clean := strings.Repeat("привет ", 10)
	garbled := strings.Repeat("Ð¿Ñ€Ð¸Ð²ÐµÑ‚ ", 10)
	if scoreDecoding(clean) <= scoreDecoding(garbled) {
		t.Fatalf("clean score %.2f not above garbled %.2f",
			scoreDecoding(clean), scoreDecoding(garbled))
	}
}
