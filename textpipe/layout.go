package textpipe

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ReconstructPage turns a page's positioned blocks into lines, columns,
// headings and table regions, and back-annotates each block with its
// resolved column/line index and heading flag.
//
// The pass is deterministic for identical block input: blocks are put into
// a canonical order first, so permuting the input changes nothing but the
// internal visit order.
func ReconstructPage(blocks []TextBlock, pageNr int, width, height float64, h Heuristics) PageLayout {
	layout := PageLayout{
		Page:     pageNr,
		Width:    width,
		Height:   height,
		Language: detectLanguage(blocksText(blocks)),
	}
	if len(blocks) == 0 {
		return layout
	}

	sorted := make([]TextBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BBox.Y1 != sorted[j].BBox.Y1 {
			return sorted[i].BBox.Y1 < sorted[j].BBox.Y1
		}
		if sorted[i].BBox.X1 != sorted[j].BBox.X1 {
			return sorted[i].BBox.X1 < sorted[j].BBox.X1
		}
		return sorted[i].Text < sorted[j].Text
	})

	lines := groupLines(sorted, h.LineYTolerance)
	columns := clusterColumns(sorted, width, h)

	// Back-annotation and heading detection.
	for li := range lines {
		heading := isHeadingLine(lines[li].Text, h)
		for bi := range lines[li].Blocks {
			b := &lines[li].Blocks[bi]
			b.Line = li
			b.Column = columnFor(columns, b.BBox)
			b.Heading = heading
		}
		if heading {
			layout.Headings = append(layout.Headings, lines[li].Text)
		}
	}

	layout.Tables = detectTables(lines, h)
	layout.Columns = columns
	for _, ln := range lines {
		layout.Blocks = append(layout.Blocks, ln.Blocks...)
	}
	return layout
}

// groupLines clusters blocks into horizontal lines: a block joins a line
// when its top-Y is within tolerance of the line's anchor Y, otherwise it
// starts a new line. Line text concatenates blocks left to right.
func groupLines(sorted []TextBlock, tolerance float64) []Line {
	var lines []Line
	for _, b := range sorted {
		placed := false
		for li := range lines {
			if b.BBox.Y1 >= lines[li].Y1-tolerance && b.BBox.Y1 <= lines[li].Y1+tolerance {
				lines[li].Blocks = append(lines[li].Blocks, b)
				if b.BBox.Y2 > lines[li].Y2 {
					lines[li].Y2 = b.BBox.Y2
				}
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, Line{
				ID:     len(lines),
				Y1:     b.BBox.Y1,
				Y2:     b.BBox.Y2,
				Blocks: []TextBlock{b},
			})
		}
	}
	for li := range lines {
		sort.SliceStable(lines[li].Blocks, func(i, j int) bool {
			return lines[li].Blocks[i].BBox.X1 < lines[li].Blocks[j].BBox.X1
		})
		parts := make([]string, 0, len(lines[li].Blocks))
		for _, b := range lines[li].Blocks {
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		}
		lines[li].Text = strings.Join(parts, " ")
	}
	return lines
}

// clusterColumns infers vertical text bands from block horizontal centers:
// sort the centers and split wherever the gap between consecutive centers
// exceeds max(pageWidth*ratio, floor).
func clusterColumns(blocks []TextBlock, pageWidth float64, h Heuristics) []Column {
	gap := pageWidth * h.ColumnGapRatio
	if gap < h.ColumnGapMin {
		gap = h.ColumnGapMin
	}

	type centered struct {
		center float64
		x1, x2 float64
	}
	cs := make([]centered, 0, len(blocks))
	for _, b := range blocks {
		cs = append(cs, centered{
			center: (b.BBox.X1 + b.BBox.X2) / 2,
			x1:     b.BBox.X1,
			x2:     b.BBox.X2,
		})
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].center < cs[j].center })

	var columns []Column
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		cluster := cs[start:end]
		col := Column{
			ID:     len(columns),
			Start:  cluster[0].x1,
			End:    cluster[0].x2,
			Blocks: len(cluster),
		}
		var sum float64
		for _, c := range cluster {
			sum += c.center
			if c.x1 < col.Start {
				col.Start = c.x1
			}
			if c.x2 > col.End {
				col.End = c.x2
			}
		}
		col.Center = sum / float64(len(cluster))
		col.Start -= h.ColumnPad
		col.End += h.ColumnPad
		columns = append(columns, col)
	}
	for i := 1; i < len(cs); i++ {
		if cs[i].center-cs[i-1].center > gap {
			flush(i)
			start = i
		}
	}
	flush(len(cs))
	return columns
}

func columnFor(columns []Column, box BBox) int {
	center := (box.X1 + box.X2) / 2
	for _, col := range columns {
		if center >= col.Start && center <= col.End {
			return col.ID
		}
	}
	return 0
}

var (
	numericPrefixRe   = regexp.MustCompile(`^\d+(\.\d+)*\s`)
	capitalizedWordRe = regexp.MustCompile(`^(?:[A-ZА-ЯЁ][a-zа-яё'’-]*[\s,:]*)+$`)
)

// isHeadingLine applies the three heading heuristics: dominant uppercase,
// multi-level numeric prefix, or a short run of capitalized words.
func isHeadingLine(text string, h Heuristics) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 0 && float64(upper)/float64(letters) > h.HeadingUppercaseRatio {
		return true
	}
	if numericPrefixRe.MatchString(text) {
		return true
	}
	if significantLen(text) <= h.HeadingShortMax && capitalizedWordRe.MatchString(text) {
		return true
	}
	return false
}

func significantLen(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// detectTables collapses runs of >= TableMinRows consecutive lines, each
// carrying >= TableMinCells non-empty blocks, into table regions. Rows keep
// the line's blocks in X order.
func detectTables(lines []Line, h Heuristics) []TableRegion {
	var tables []TableRegion
	runStart := -1

	flush := func(end int) {
		if runStart < 0 || end-runStart < h.TableMinRows {
			runStart = -1
			return
		}
		table := TableRegion{ID: len(tables)}
		for li := runStart; li < end; li++ {
			var row []TableCell
			for _, b := range lines[li].Blocks {
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				row = append(row, TableCell{Text: strings.TrimSpace(b.Text), BBox: b.BBox})
			}
			table.Rows = append(table.Rows, row)
		}
		tables = append(tables, table)
		runStart = -1
	}

	for li := range lines {
		cells := 0
		for _, b := range lines[li].Blocks {
			if strings.TrimSpace(b.Text) != "" {
				cells++
			}
		}
		if cells >= h.TableMinCells {
			if runStart < 0 {
				runStart = li
			}
		} else {
			flush(li)
		}
	}
	flush(len(lines))
	return tables
}

// buildSyntheticLayout fabricates a PageLayout for formats without real
// geometry (docx, plain text): paragraphs wrap into pseudo-lines stacked at
// a fixed line height, one block per line.
func buildSyntheticLayout(paragraphs []string, pageNr int, h Heuristics) PageLayout {
	layout := PageLayout{
		Page:   pageNr,
		Width:  float64(h.SyntheticWrapWidth) * 10,
		Height: 0,
	}
	lineNr := 0
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		heading := syntheticHeading(para)
		for _, lineText := range wrapText(para, h.SyntheticWrapWidth) {
			y := float64(lineNr) * h.SyntheticLineHeight
			block := TextBlock{
				ID:   "p" + strconv.Itoa(pageNr) + "s" + strconv.Itoa(lineNr),
				Text: lineText,
				BBox: BBox{
					X1: 0,
					Y1: round2(y),
					X2: round2(float64(len([]rune(lineText))) * 10),
					Y2: round2(y + h.SyntheticLineHeight),
				},
				Line:    lineNr,
				Heading: heading,
			}
			layout.Blocks = append(layout.Blocks, block)
			lineNr++
		}
		if heading {
			layout.Headings = append(layout.Headings, para)
		}
	}
	layout.Height = float64(lineNr) * h.SyntheticLineHeight
	layout.Language = detectLanguage(blocksText(layout.Blocks))
	if len(layout.Blocks) > 0 {
		layout.Columns = []Column{{ID: 0, Start: 0, End: layout.Width, Center: layout.Width / 2, Blocks: len(layout.Blocks)}}
	}
	return layout
}

// syntheticHeading is the reduced heading heuristic for wrapped text:
// numeric prefix or all-uppercase.
func syntheticHeading(para string) bool {
	if numericPrefixRe.MatchString(para) {
		return true
	}
	var letters, upper int
	for _, r := range para {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters > 0 && letters == upper
}

func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	var cur strings.Builder
	curLen := 0
	for _, w := range words {
		wl := len([]rune(w))
		if curLen > 0 && curLen+1+wl > width {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func blocksText(blocks []TextBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
		sb.WriteByte(' ')
	}
	return sb.String()
}

// detectLanguage is a cheap Cyrillic/Latin ratio guess, enough to hint the
// downstream consumer. Empty when the page has too few letters to tell.
func detectLanguage(text string) string {
	var cyr, lat int
	for _, r := range text {
		switch {
		case isCyrillic(r):
			cyr++
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			lat++
		}
	}
	switch {
	case cyr+lat < 10:
		return ""
	case cyr > lat:
		return "ru"
	default:
		return "en"
	}
}
