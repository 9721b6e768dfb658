package textpipe

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pdfDocument is the structural pass output: positioned blocks per page,
// not yet in reading order. Ordering is the layout reconstructor's job.
type pdfDocument struct {
	PageCount int
	Pages     []pdfPage
	HasImages bool
}

type pdfPage struct {
	Number int
	Width  float64
	Height float64
	Blocks []TextBlock
}

// extractPDFStructure parses PDF page content streams into positioned text
// blocks. A malformed page degrades to an empty page and a trace note; only
// an unparseable document fails outright.
func extractPDFStructure(data []byte) (*pdfDocument, []TraceEntry, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	dims, err := ctx.PageDims()
	if err != nil {
		dims = nil
	}

	doc := &pdfDocument{
		PageCount: ctx.PageCount,
		HasImages: detectImageStreams(ctx),
	}

	var notes []TraceEntry
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		width, height := 595.0, 842.0
		if pageNr-1 < len(dims) {
			width, height = dims[pageNr-1].Width, dims[pageNr-1].Height
		}

		page := pdfPage{Number: pageNr, Width: width, Height: height}
		stream, err := pageContent(ctx, pageNr)
		if err != nil {
			notes = append(notes, TraceEntry{
				Stage:  "pdf-structural",
				Status: TraceWarn,
				Detail: fmt.Sprintf("page %d: content stream unavailable: %v", pageNr, err),
			})
			doc.Pages = append(doc.Pages, page)
			continue
		}
		page.Blocks = interpretContentStream(stream, pageNr, height)
		doc.Pages = append(doc.Pages, page)
	}

	return doc, notes, nil
}

func pageContent(ctx *model.Context, pageNr int) ([]byte, error) {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("no content stream")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty content stream")
	}
	return data, nil
}

// detectImageStreams checks whether the PDF carries image XObjects. Image
// streams plus sparse text is the classic scanned-document signature.
func detectImageStreams(ctx *model.Context) bool {
	if ctx.Optimize != nil {
		for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// glyphWidthFactor approximates advance width per glyph as a fraction of the
// font size. Without per-font width tables this is a serviceable estimate
// for bounding boxes; layout clustering only needs relative geometry.
const glyphWidthFactor = 0.5

// textState tracks the subset of the PDF text state the interpreter needs:
// current and line-start positions, font size and leading.
type textState struct {
	x, y         float64 // current text position (PDF coords, origin bottom-left)
	lineX, lineY float64 // start of the current text line
	fontSize     float64
	leading      float64
}

// interpretContentStream walks text operators (BT/ET, Tf, TL, Td, TD, Tm,
// T*, Tj, ', ", TJ) and emits one TextBlock per shown string, positioned in
// viewport coordinates (top-left origin) with 2-decimal bounding boxes.
func interpretContentStream(data []byte, pageNr int, pageHeight float64) []TextBlock {
	var blocks []TextBlock
	st := textState{fontSize: 12}

	var operands []csOperand
	var array []csOperand
	inArray := false

	emit := func(raw []byte) {
		text := decodePDFString(raw)
		if trimAllSpace(text) == "" {
			// advance position, but whitespace-only runs are not blocks
			st.x += float64(len([]rune(text))) * st.fontSize * glyphWidthFactor
			return
		}
		width := float64(len([]rune(text))) * st.fontSize * glyphWidthFactor
		topY := pageHeight - st.y - st.fontSize
		blocks = append(blocks, TextBlock{
			ID:   "p" + strconv.Itoa(pageNr) + "b" + strconv.Itoa(len(blocks)+1),
			Text: text,
			BBox: BBox{
				X1: round2(st.x),
				Y1: round2(topY),
				X2: round2(st.x + width),
				Y2: round2(topY + st.fontSize),
			},
		})
		st.x += width
	}

	nextLine := func() {
		st.lineY -= st.leading
		st.x, st.y = st.lineX, st.lineY
	}

	num := func(i int) float64 {
		if i < 0 || i >= len(operands) {
			return 0
		}
		return operands[i].num
	}

	tok := newStreamTokenizer(data)
	for {
		t, ok := tok.next()
		if !ok {
			break
		}
		switch t.kind {
		case tokArrayStart:
			inArray = true
			array = array[:0]
		case tokArrayEnd:
			inArray = false
		case tokNumber, tokString:
			op := csOperand{num: t.num, str: t.str, isStr: t.kind == tokString}
			if inArray {
				array = append(array, op)
			} else {
				operands = append(operands, op)
			}
		case tokName:
			// font names etc. — positional operands we don't need
			if !inArray {
				operands = append(operands, csOperand{})
			}
		case tokOperator:
			switch string(t.str) {
			case "BT":
				st.x, st.y, st.lineX, st.lineY = 0, 0, 0, 0
			case "Tf":
				if n := len(operands); n > 0 {
					if size := operands[n-1].num; size > 0 {
						st.fontSize = size
					}
				}
			case "TL":
				st.leading = num(len(operands) - 1)
			case "Td":
				st.lineX += num(len(operands) - 2)
				st.lineY += num(len(operands) - 1)
				st.x, st.y = st.lineX, st.lineY
			case "TD":
				st.leading = -num(len(operands) - 1)
				st.lineX += num(len(operands) - 2)
				st.lineY += num(len(operands) - 1)
				st.x, st.y = st.lineX, st.lineY
			case "Tm":
				// Only translation matters for clustering; scale/skew in the
				// text matrix is ignored.
				if n := len(operands); n >= 6 {
					st.lineX = operands[n-2].num
					st.lineY = operands[n-1].num
					st.x, st.y = st.lineX, st.lineY
				}
			case "T*":
				nextLine()
			case "Tj":
				if n := len(operands); n > 0 && operands[n-1].isStr {
					emit(operands[n-1].str)
				}
			case "'":
				nextLine()
				if n := len(operands); n > 0 && operands[n-1].isStr {
					emit(operands[n-1].str)
				}
			case "\"":
				nextLine()
				if n := len(operands); n > 0 && operands[n-1].isStr {
					emit(operands[n-1].str)
				}
			case "TJ":
				for _, el := range array {
					if el.isStr {
						emit(el.str)
					} else {
						// kerning adjustment in thousandths of the font size
						st.x -= el.num / 1000 * st.fontSize
					}
				}
				array = array[:0]
			}
			operands = operands[:0]
		}
	}

	return blocks
}

type csOperand struct {
	num   float64
	str   []byte
	isStr bool
}

const (
	tokNumber = iota
	tokString
	tokName
	tokOperator
	tokArrayStart
	tokArrayEnd
)

type csToken struct {
	kind int
	num  float64
	str  []byte
}

// streamTokenizer splits a decoded content stream into numbers, strings
// (literal and hex), names, array delimiters and operators. Dictionaries and
// inline images are skipped; they carry no text-showing operators we handle.
type streamTokenizer struct {
	data []byte
	pos  int
}

func newStreamTokenizer(data []byte) *streamTokenizer {
	return &streamTokenizer{data: data}
}

func (s *streamTokenizer) next() (csToken, bool) {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isPDFSpace(c):
			s.pos++
		case c == '%':
			s.skipComment()
		case c == '(':
			return csToken{kind: tokString, str: s.readLiteralString()}, true
		case c == '<':
			if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
				s.pos += 2 // dict start — positional noise
			} else {
				return csToken{kind: tokString, str: s.readHexString()}, true
			}
		case c == '>':
			s.pos++ // dict end remainder
		case c == '[':
			s.pos++
			return csToken{kind: tokArrayStart}, true
		case c == ']':
			s.pos++
			return csToken{kind: tokArrayEnd}, true
		case c == '/':
			return csToken{kind: tokName, str: s.readRegular()}, true
		case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
			raw := s.readRegular()
			n, err := strconv.ParseFloat(string(raw), 64)
			if err != nil {
				continue
			}
			return csToken{kind: tokNumber, num: n}, true
		default:
			raw := s.readRegular()
			if len(raw) == 0 {
				s.pos++
				continue
			}
			return csToken{kind: tokOperator, str: raw}, true
		}
	}
	return csToken{}, false
}

func (s *streamTokenizer) skipComment() {
	for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
		s.pos++
	}
}

// readLiteralString consumes a ( ... ) string honoring nesting and escapes.
func (s *streamTokenizer) readLiteralString() []byte {
	s.pos++ // opening paren
	var out []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '\\' && s.pos+1 < len(s.data) {
			out = append(out, c, s.data[s.pos+1])
			s.pos += 2
			continue
		}
		if c == '(' {
			depth++
		} else if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
		}
		out = append(out, c)
		s.pos++
	}
	return out
}

// readHexString consumes < ... > and returns the decoded bytes.
func (s *streamTokenizer) readHexString() []byte {
	s.pos++ // opening angle
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		c := s.data[s.pos]
		if isHexDigit(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	if s.pos < len(s.data) {
		s.pos++ // closing angle
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		out = append(out, hexVal(digits[i])<<4|hexVal(digits[i+1]))
	}
	return out
}

func (s *streamTokenizer) readRegular() []byte {
	start := s.pos
	if s.data[s.pos] == '/' {
		s.pos++
	}
	for s.pos < len(s.data) && !isPDFSpace(s.data[s.pos]) && !isPDFDelim(s.data[s.pos]) {
		s.pos++
	}
	return s.data[start:s.pos]
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// decodePDFString handles basic PDF escape sequences and maps raw bytes to
// runes (Latin-1 interpretation for the high range).
func decodePDFString(raw []byte) string {
	var out []rune
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case '\\', '(', ')':
				out = append(out, rune(raw[i]))
			default:
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					out = append(out, rune(byte(val)))
				} else {
					out = append(out, rune(raw[i]))
				}
			}
		} else {
			out = append(out, rune(raw[i]))
		}
	}
	return string(out)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func trimAllSpace(s string) string {
	for _, r := range s {
		if r != ' ' && r != '\n' && r != '\r' && r != '\t' {
			return s
		}
	}
	return ""
}
