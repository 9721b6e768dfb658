package textpipe

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Decoder scoring weights. No BOM or charset declaration is guaranteed on
// uploaded text, so candidate decodings are ranked by a statistical guess:
// reward plausible length and Cyrillic letters, punish mojibake and control
// noise. Tunable on purpose.
const (
	decodeLengthDiv    = 50.0
	decodeCyrillicGain = 0.6
	decodeMojibakeCost = 4.0
	decodeControlCost  = 6.0
)

type encodingCandidate struct {
	name string
	enc  encoding.Encoding // nil means raw UTF-8 interpretation
}

// Candidate order matters: score ties resolve to the earlier entry.
var encodingCandidates = []encodingCandidate{
	{"utf-8", nil},
	{"utf-16le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
	{"utf-16be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	{"windows-1251", charmap.Windows1251},
	{"koi8-r", charmap.KOI8R},
	{"ibm866", charmap.CodePage866},
}

// DecodeText recovers a best-effort UTF-8 string from an unknown-encoding
// buffer. Strict UTF-8 wins outright when the bytes are valid; otherwise
// every candidate encoding is tried and the highest-scoring result returned,
// along with the name of the encoding that produced it.
func DecodeText(data []byte) (string, string) {
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}

	bestName := ""
	bestText := ""
	bestScore := 0.0
	first := true
	for _, cand := range encodingCandidates {
		var text string
		if cand.enc == nil {
			text = string(data) // invalid sequences become U+FFFD and get penalized
		} else {
			decoded, err := cand.enc.NewDecoder().Bytes(data)
			if err != nil {
				continue
			}
			text = string(decoded)
		}
		score := scoreDecoding(text)
		if first || score > bestScore {
			first = false
			bestScore = score
			bestText = text
			bestName = cand.name
		}
	}
	return bestText, bestName
}

func scoreDecoding(text string) float64 {
	var cyr, mojibake, control int
	var length int
	for _, r := range text {
		length++
		switch {
		case isCyrillic(r):
			cyr++
		case isMojibakeRune(r):
			mojibake++
		case isControlRune(r):
			control++
		}
	}
	return float64(length)/decodeLengthDiv +
		float64(cyr)*decodeCyrillicGain -
		float64(mojibake)*decodeMojibakeCost -
		float64(control)*decodeControlCost
}

func isCyrillic(r rune) bool {
	return (r >= 0x0400 && r <= 0x04FF) || r == 0x0401 || r == 0x0451
}

// isMojibakeRune flags the characters a wrong single-byte interpretation of
// UTF-8 Cyrillic typically produces: the replacement char, C1 controls, and
// the Latin-1 lead letters of misdecoded multibyte sequences.
func isMojibakeRune(r rune) bool {
	if r == 0xFFFD {
		return true
	}
	if r >= 0x0080 && r <= 0x009F {
		return true
	}
	switch r {
	case 'Ã', 'Â', 'Ð', 'Ñ':
		return true
	}
	return false
}

func isControlRune(r rune) bool {
	return (r < 0x20 && r != '\n' && r != '\r' && r != '\t') || r == 0x7F
}
