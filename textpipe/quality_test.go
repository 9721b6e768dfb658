package textpipe

import (
	"strings"
	"testing"
)

func TestAssessPage_Counts(t *testing.T) {
	q := AssessPage("абв 123  xyz")
	// collapsed: "абв 123 xyz" — 11 runes, 3 cyrillic, 3 digits
	if q.Length != 11 {
		t.Fatalf("Length = %d, want 11", q.Length)
	}
	if q.Cyrillic != 3 {
		t.Fatalf("Cyrillic = %d, want 3", q.Cyrillic)
	}
	if q.Digits != 3 {
		t.Fatalf("Digits = %d, want 3", q.Digits)
	}
	// а б в space 1 2 3 x y z — 10 distinct runes
	if q.Unique != 10 {
		t.Fatalf("Unique = %d, want 10", q.Unique)
	}
}

func TestAssessPage_Deterministic(t *testing.T) {
	// WHAT: The same text always yields the identical assessment.
	// WHY: Acceptance and patching decisions must be reproducible.
	text := "Сводный отчёт за 2024 год: выручка 1200 тыс."
	first := AssessPage(text)
	for i := 0; i < 5; i++ {
		if got := AssessPage(text); got != first {
			t.Fatalf("assessment drifted: %+v vs %+v", got, first)
		}
	}
}

func TestAssessPage_WhitespaceCollapsed(t *testing.T) {
	a := AssessPage("one two three")
	b := AssessPage("  one \n\n two\t\tthree  ")
	if a != b {
		t.Fatalf("whitespace variants diverge: %+v vs %+v", a, b)
	}
}

func TestAcceptable_LengthAlone(t *testing.T) {
	h := defaultHeuristics()
	q := AssessPage(strings.Repeat("abcdefg ", 30)) // 239 chars collapsed
	if q.Length < h.AcceptLength {
		t.Fatalf("fixture too short: %d", q.Length)
	}
	if !q.Acceptable(h) {
		t.Fatal("long latin text rejected")
	}
}

func TestAcceptable_CyrillicClause(t *testing.T) {
	// WHAT: 120+ chars with 40+ Cyrillic passes even below the plain length bar.
	// WHY: Russian documents are shorter per information unit than the
	// latin-length rule assumes.
	h := defaultHeuristics()
	text := strings.Repeat("отчёт ", 25) // 149 chars, 125 cyrillic
	q := AssessPage(text)
	if q.Length >= h.AcceptLength {
		t.Fatalf("fixture hits the plain length clause: %d", q.Length)
	}
	if q.Length < h.AcceptLengthCyr || q.Cyrillic <= h.AcceptCyrCount {
		t.Fatalf("fixture misses the cyrillic clause: %+v", q)
	}
	if !q.Acceptable(h) {
		t.Fatal("cyrillic text rejected")
	}
}

func TestAcceptable_DigitClause(t *testing.T) {
	h := defaultHeuristics()
	text := strings.Repeat("12 34 ab ", 15) // 134 chars, 60 digits
	q := AssessPage(text)
	if q.Length < h.AcceptLengthDigit || q.Digits <= h.AcceptDigitCount {
		t.Fatalf("fixture misses the digit clause: %+v", q)
	}
	if !q.Acceptable(h) {
		t.Fatal("digit-dense text rejected")
	}
}

func TestAcceptable_MixedClause(t *testing.T) {
	h := defaultHeuristics()
	text := "Счёт № 42 от 03 марта: аренда зала по договору субаренды, предоплата внесена полностью"
	q := AssessPage(text)
	if q.Length < h.AcceptMixedLength || q.Cyrillic < h.AcceptMixedCyr || q.Digits < h.AcceptMixedDigits {
		t.Fatalf("fixture misses the mixed clause: %+v", q)
	}
	if !q.Acceptable(h) {
		t.Fatal("mixed short text rejected")
	}
}

func TestAcceptable_RejectsNoise(t *testing.T) {
	h := defaultHeuristics()
	for _, text := range []string{"", "ab", "...", "x y z"} {
		if AssessPage(text).Acceptable(h) {
			t.Errorf("noise accepted: %q", text)
		}
	}
}
