package textpipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies the detected input type.
type Kind string

const (
	KindPDF    Kind = "pdf"
	KindDocx   Kind = "docx"
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindBinary Kind = "binary"
)

// RawDocument is the immutable input: bytes plus declared name and MIME type.
// The content hash is computed once at construction and keys the artifact cache.
type RawDocument struct {
	Data []byte `json:"-"`
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
	Hash string `json:"hash"` // sha256 hex
}

// NewRawDocument wraps the input buffer. An empty buffer is the only fatal
// input condition in the pipeline.
func NewRawDocument(data []byte, name, mime string) (*RawDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrUnreadableInput)
	}
	sum := sha256.Sum256(data)
	return &RawDocument{
		Data: data,
		Name: name,
		MIME: mime,
		Size: int64(len(data)),
		Hash: hex.EncodeToString(sum[:]),
	}, nil
}

// BBox is an axis-aligned bounding box in page viewport coordinates
// (origin top-left, y growing downward), rounded to 2 decimal places.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// TextBlock is one positioned text fragment on a page. Column, Line and
// Heading are back-annotated by the layout reconstruction pass.
type TextBlock struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	BBox    BBox   `json:"bbox"`
	Column  int    `json:"column"`
	Line    int    `json:"line"`
	Heading bool   `json:"heading,omitempty"`
}

// Line is a horizontal cluster of blocks sharing a Y-band.
type Line struct {
	ID     int         `json:"id"`
	Y1     float64     `json:"y1"`
	Y2     float64     `json:"y2"`
	Blocks []TextBlock `json:"blocks"`
	Text   string      `json:"text"`
}

// Column is a vertical text band inferred from block-center clustering.
type Column struct {
	ID     int     `json:"id"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Center float64 `json:"center"`
	Blocks int     `json:"blocks"`
}

// TableCell is one cell of a detected table row.
type TableCell struct {
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
}

// TableRegion is a run of consecutive lines with aligned cells.
type TableRegion struct {
	ID   int           `json:"id"`
	Rows [][]TableCell `json:"rows"`
}

// PageLayout is the per-page structural summary.
type PageLayout struct {
	Page     int           `json:"page"`
	Width    float64       `json:"width"`
	Height   float64       `json:"height"`
	Columns  []Column      `json:"columns"`
	Headings []string      `json:"headings"`
	Blocks   []TextBlock   `json:"blocks"`
	Tables   []TableRegion `json:"tables"`
	Language string        `json:"language,omitempty"`
}

// LayoutSummary aggregates counts across pages.
type LayoutSummary struct {
	PageCount int `json:"pageCount"`
	Headings  int `json:"headings"`
	Tables    int `json:"tables"`
}

// DocumentLayout is the whole-document structural reconstruction.
type DocumentLayout struct {
	Pages   []PageLayout  `json:"pages"`
	Summary LayoutSummary `json:"summary"`
}

// PageImage references an uploaded raster of one rendered page.
type PageImage struct {
	Page   int    `json:"page"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Meta carries extraction diagnostics alongside the text.
type Meta struct {
	Extractor       string       `json:"extractor"`
	UsedOCR         bool         `json:"usedOcr"`
	Quality         float64      `json:"quality"`
	OCRPatchedPages []int        `json:"ocrPatchedPages,omitempty"`
	Trace           []TraceEntry `json:"trace"`
	PageImages      []PageImage  `json:"pageImages,omitempty"`
}

// Result is the final pipeline output. It is always structurally valid,
// even when Text is empty; callers inspect Meta to decide how to react.
type Result struct {
	Text           string          `json:"text"`
	Pages          []string        `json:"pages"`
	PageTaggedText string          `json:"pageTaggedText"`
	Layout         *DocumentLayout `json:"layout,omitempty"`
	Meta           Meta            `json:"meta"`
}

// TagPages is the single source of the page-tagged rendition: Result.
// PageTaggedText is always this function applied to Result.Pages, never
// stored independently.
func TagPages(pages []string) string {
	var sb strings.Builder
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Page %d]\n%s", i+1, p)
	}
	return sb.String()
}

// OCROptions selects recognition languages and bounds how many pages a
// full-document OCR pass renders.
type OCROptions struct {
	Languages []string `json:"languages,omitempty"`
	PageLimit int      `json:"pageLimit,omitempty"`
}

// Options is the per-request options bag. Zero values fall back to Config.
type Options struct {
	OCR            OCROptions `json:"ocr"`
	RemoteEndpoint string     `json:"remoteEndpoint,omitempty"`
	UploadImages   bool       `json:"uploadImages,omitempty"`
}
