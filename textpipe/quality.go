package textpipe

import (
	"strings"
	"unicode"
)

// Quality scoring weights. Like the decoder weights these are a starting
// calibration, not a derived optimum; they live here as named constants so
// they can be revisited against a labeled corpus.
const (
	qualityLengthDiv  = 80.0
	qualityCyrGain    = 0.4
	qualityDigitGain  = 0.05
	qualityUniqueGain = 0.1
)

// PageQuality is the assessment of one page's text. Pure and deterministic:
// identical input always yields the identical verdict.
type PageQuality struct {
	Score    float64 `json:"score"`
	Length   int     `json:"length"`
	Cyrillic int     `json:"cyrillic"`
	Digits   int     `json:"digits"`
	Unique   int     `json:"unique"`
}

// AssessPage scores a single page's text for readability.
func AssessPage(text string) PageQuality {
	cleaned := collapseWhitespace(text)

	var q PageQuality
	seen := make(map[rune]struct{})
	for _, r := range cleaned {
		q.Length++
		if isCyrillic(r) {
			q.Cyrillic++
		}
		if unicode.IsDigit(r) {
			q.Digits++
		}
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			q.Unique++
		}
	}
	q.Score = float64(q.Length)/qualityLengthDiv +
		float64(q.Cyrillic)*qualityCyrGain +
		float64(q.Digits)*qualityDigitGain +
		float64(q.Unique)*qualityUniqueGain
	return q
}

// Acceptable decides whether extracted text is usable as-is. Any one clause
// suffices; pages failing all clauses are OCR-patch candidates but are not
// discarded — some text beats no text.
func (q PageQuality) Acceptable(h Heuristics) bool {
	switch {
	case q.Length >= h.AcceptLength:
		return true
	case q.Length >= h.AcceptLengthCyr && q.Cyrillic > h.AcceptCyrCount:
		return true
	case q.Length >= h.AcceptLengthDigit && q.Digits > h.AcceptDigitCount:
		return true
	case q.Length >= h.AcceptMixedLength && q.Cyrillic >= h.AcceptMixedCyr && q.Digits >= h.AcceptMixedDigits:
		return true
	case q.Score >= h.AcceptScore:
		return true
	}
	return false
}

func collapseWhitespace(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
