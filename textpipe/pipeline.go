// Package textpipe reconstructs plain text and structural metadata from
// uploaded documents (PDF, DOCX, plain text, images).
//
// The pipeline runs strategies in priority order — structural extraction,
// remote fallback, OCR — and scores every candidate with a deterministic
// quality heuristic. Pages that score below threshold in an otherwise
// acceptable document are re-rendered and OCR-patched individually instead
// of discarding the document.
//
// Usage:
//
//	pipe := textpipe.New(textpipe.Config{}, textpipe.Services{...})
//	res, err := pipe.Extract(ctx, data, "report.pdf", "application/pdf", textpipe.Options{})
//
// Extract fails only when the input buffer itself is unusable; every other
// failure is absorbed into the result's trace.
package textpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hazyhaar/salvage/render"
)

// Uploader stores a rendered page image and returns a retrievable URL
// (empty string means "not stored"). Implementations live outside the
// pipeline; the core only needs "given bytes, get back a URL or nothing".
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Services are the pipeline's injected collaborators, constructed once at
// application start. Nil fields mean the capability is absent and the
// corresponding strategy is skipped with a trace note.
type Services struct {
	Renderer render.Renderer
	OCR      Recognizer
	Remote   RemoteExtractor
	Uploader Uploader
}

// Pipeline is the extraction engine. Safe for concurrent use; per-document
// state lives in a run, never on the Pipeline.
type Pipeline struct {
	cfg    Config
	svc    Services
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration and services.
func New(cfg Config, svc Services) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		svc:    svc,
		logger: cfg.Logger,
	}
}

// Heuristics exposes the resolved thresholds (after defaults).
func (p *Pipeline) Heuristics() Heuristics { return p.cfg.Heuristics }

// Extract runs the full pipeline on one document. The returned Result is
// always structurally valid; err is non-nil only for unreadable input.
func (p *Pipeline) Extract(ctx context.Context, data []byte, name, mime string, opts Options) (*Result, error) {
	doc, err := NewRawDocument(data, name, mime)
	if err != nil {
		return nil, err
	}
	if doc.Size > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrUnreadableInput, doc.Size, p.cfg.MaxFileSize)
	}

	r := &run{p: p, tb: NewTraceBuilder()}
	res := r.extract(ctx, doc, opts)
	p.logger.Debug("extraction finished",
		"name", doc.Name,
		"extractor", res.Meta.Extractor,
		"used_ocr", res.Meta.UsedOCR,
		"quality", res.Meta.Quality,
		"pages", len(res.Pages))
	return res, nil
}

// run is the state of a single extraction: trace, collected page images,
// resolved options. One run never outlives its Extract call.
type run struct {
	p            *Pipeline
	tb           *TraceBuilder
	pageImages   []PageImage
	pdfHasImages bool
}

func (r *run) extract(ctx context.Context, doc *RawDocument, opts Options) *Result {
	r.tb.Info("start", fmt.Sprintf("%s (%d bytes, sha256 %.12s)", doc.Name, doc.Size, doc.Hash))

	kind := DetectKind(doc.Data, doc.Name, doc.MIME)
	r.tb.Info("kind-detected", string(kind))

	var res *Result
	switch kind {
	case KindPDF:
		res = r.extractPDF(ctx, doc, opts)
	case KindDocx:
		res = r.extractDocx(doc)
	case KindText:
		res = r.extractText(doc)
	case KindImage:
		res = r.extractImage(ctx, doc, opts)
	default:
		res = r.extractBinary(ctx, doc)
	}

	if ctx.Err() != nil {
		r.tb.Warn("cancelled", ctx.Err().Error())
	}

	res.PageTaggedText = TagPages(res.Pages)
	if res.Meta.Quality == 0 && res.Text != "" {
		res.Meta.Quality = AssessPage(res.Text).Score
	}
	res.Meta.Trace = r.tb.Entries()
	res.Meta.PageImages = r.pageImages
	return res
}

// --- PDF path: structural → remote fallback → OCR fallback → patch ---

func (r *run) extractPDF(ctx context.Context, doc *RawDocument, opts Options) *Result {
	h := r.p.cfg.Heuristics

	structural := r.structuralPass(doc)
	if structural != nil {
		q := AssessPage(structural.Text)
		structural.Meta.Quality = q.Score
		if q.Acceptable(h) {
			r.tb.Info("quality-check", fmt.Sprintf("structural text accepted (score %.2f)", q.Score))
			r.adaptivePatch(ctx, doc, structural, opts)
			return structural
		}
		r.tb.Warn("quality-check", fmt.Sprintf("structural text below acceptance (score %.2f)", q.Score))
		if r.pdfHasImages {
			// image streams plus sparse text is the scanned-document signature
			r.tb.Info("pdf-structural", "image streams present, text sparse: likely scanned")
		}
	}

	if remote := r.remotePass(ctx, doc, opts); remote != nil {
		q := AssessPage(remote.Text)
		remote.Meta.Quality = q.Score
		if q.Acceptable(h) {
			r.tb.Info("quality-check", fmt.Sprintf("remote text accepted (score %.2f)", q.Score))
			r.adaptivePatch(ctx, doc, remote, opts)
			return remote
		}
		r.tb.Warn("quality-check", fmt.Sprintf("remote text below acceptance (score %.2f)", q.Score))
	}

	pageCount := 1
	var layout *DocumentLayout
	if structural != nil {
		pageCount = len(structural.Pages)
		layout = structural.Layout
	}

	if ocr := r.ocrPass(ctx, doc, pageCount, opts); ocr != nil {
		ocr.Layout = layout
		return ocr
	}

	// Terminal: nothing could read this document. Still a valid result.
	r.tb.Warn("exhausted", ErrAllStrategiesExhausted.Error())
	empty := &Result{
		Pages:  make([]string, pageCount),
		Layout: layout,
		Meta:   Meta{Extractor: "pdf-unreadable"},
	}
	if structural != nil {
		// prefer "some text" over "no text" even below acceptance
		empty.Text = structural.Text
		empty.Pages = structural.Pages
		empty.Meta.Quality = structural.Meta.Quality
	}
	return empty
}

// structuralPass parses content streams into blocks and reconstructs the
// layout. Failure degrades to nil, never to an error crossing the stage.
func (r *run) structuralPass(doc *RawDocument) *Result {
	h := r.p.cfg.Heuristics

	sdoc, notes, err := extractPDFStructure(doc.Data)
	for _, n := range notes {
		r.tb.Add(n.Stage, n.Status, n.Detail)
	}
	if err != nil {
		r.tb.Error("pdf-structural", err.Error())
		return nil
	}
	r.tb.Info("pdf-structural", fmt.Sprintf("%d pages parsed", sdoc.PageCount))
	r.pdfHasImages = sdoc.HasImages

	layout := &DocumentLayout{Summary: LayoutSummary{PageCount: sdoc.PageCount}}
	pages := make([]string, 0, len(sdoc.Pages))
	for _, pg := range sdoc.Pages {
		pl := ReconstructPage(pg.Blocks, pg.Number, pg.Width, pg.Height, h)
		layout.Pages = append(layout.Pages, pl)
		layout.Summary.Headings += len(pl.Headings)
		layout.Summary.Tables += len(pl.Tables)
		pages = append(pages, pageTextFromLayout(pl))
	}
	r.tb.Info("layout", fmt.Sprintf("%d headings, %d tables", layout.Summary.Headings, layout.Summary.Tables))

	return &Result{
		Text:   strings.TrimSpace(strings.Join(pages, "\n\n")),
		Pages:  pages,
		Layout: layout,
		Meta:   Meta{Extractor: "pdfcpu"},
	}
}

func (r *run) remotePass(ctx context.Context, doc *RawDocument, opts Options) *Result {
	remote := r.p.svc.Remote
	if remote == nil && r.p.cfg.RemoteEndpoint != "" {
		remote = NewRemoteClient(r.p.cfg.RemoteEndpoint, r.p.cfg.RemoteTimeout)
	}
	if opts.RemoteEndpoint != "" {
		remote = NewRemoteClient(opts.RemoteEndpoint, r.p.cfg.RemoteTimeout)
	}
	if remote == nil {
		r.tb.Warn("remote", "fallback unavailable: not configured")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.p.cfg.RemoteTimeout)
	defer cancel()

	rr, err := remote.Extract(callCtx, doc)
	if err != nil {
		r.tb.Warn("remote", fmt.Sprintf("fallback unavailable: %v", err))
		return nil
	}
	if strings.TrimSpace(rr.Text) == "" {
		r.tb.Warn("remote", "fallback returned empty text")
		return nil
	}

	pages := rr.Pages
	if len(pages) == 0 {
		pages = []string{rr.Text}
	}
	extractor := rr.Extractor
	if extractor == "" {
		extractor = "pdf-remote"
	}
	r.tb.Info("remote", fmt.Sprintf("fallback produced %d pages", len(pages)))
	return &Result{
		Text:  strings.TrimSpace(rr.Text),
		Pages: pages,
		Meta:  Meta{Extractor: extractor},
	}
}

func (r *run) ocrPass(ctx context.Context, doc *RawDocument, pageCount int, opts Options) *Result {
	h := r.p.cfg.Heuristics

	pages := r.ocrFullDocument(ctx, doc, pageCount, opts)
	text := strings.TrimSpace(strings.Join(nonEmpty(pages), "\n\n"))
	if len([]rune(text)) < h.MinOCRChars {
		r.tb.Warn("ocr", fmt.Sprintf("recognized %d chars, below minimum %d", len([]rune(text)), h.MinOCRChars))
		return nil
	}
	r.tb.Info("ocr", fmt.Sprintf("full-document ocr produced %d chars", len([]rune(text))))
	return &Result{
		Text:  text,
		Pages: pages,
		Meta: Meta{
			Extractor: "pdf-ocr",
			UsedOCR:   true,
			Quality:   AssessPage(text).Score,
		},
	}
}

// adaptivePatch re-OCRs only the pages whose individual score falls below
// the patch threshold, splicing recognized text back at the matching index.
// The page count never shrinks, and pages already above threshold are never
// replaced.
func (r *run) adaptivePatch(ctx context.Context, doc *RawDocument, res *Result, opts Options) {
	h := r.p.cfg.Heuristics

	pageCount := len(res.Pages)
	if res.Layout != nil && res.Layout.Summary.PageCount > pageCount {
		pageCount = res.Layout.Summary.PageCount
	}
	for len(res.Pages) < pageCount {
		res.Pages = append(res.Pages, "")
	}

	var candidates []int
	for i, page := range res.Pages {
		if AssessPage(page).Score < h.PatchScoreThreshold {
			candidates = append(candidates, i+1)
		}
	}
	if len(candidates) == 0 {
		return
	}
	r.tb.Info("adaptive-patch", fmt.Sprintf("%d low-quality pages: %v", len(candidates), candidates))

	recognized := r.ocrPageSet(ctx, doc, candidates, opts)
	if len(recognized) == 0 {
		r.tb.Warn("adaptive-patch", "no pages recovered")
		return
	}

	var patched []int
	for nr, text := range recognized {
		text = strings.TrimSpace(text)
		if text == "" || nr < 1 || nr > len(res.Pages) {
			continue
		}
		res.Pages[nr-1] = text
		patched = append(patched, nr)
	}
	if len(patched) == 0 {
		return
	}
	sort.Ints(patched)

	res.Meta.OCRPatchedPages = patched
	res.Meta.UsedOCR = true
	res.Text = strings.TrimSpace(strings.Join(nonEmpty(res.Pages), "\n\n"))
	res.Meta.Quality = AssessPage(res.Text).Score
	res.PageTaggedText = TagPages(res.Pages)
	r.tb.Info("adaptive-patch", fmt.Sprintf("patched pages %v", patched))
}

// --- single-strategy paths ---

func (r *run) extractDocx(doc *RawDocument) *Result {
	h := r.p.cfg.Heuristics

	paragraphs, err := extractDocxParagraphs(doc.Data)
	if err != nil {
		r.tb.Error("docx", err.Error())
		return &Result{Pages: []string{""}, Meta: Meta{Extractor: "docx"}}
	}
	r.tb.Info("docx", fmt.Sprintf("%d paragraphs", len(paragraphs)))

	text := strings.Join(paragraphs, "\n")
	pl := buildSyntheticLayout(paragraphs, 1, h)
	layout := &DocumentLayout{
		Pages: []PageLayout{pl},
		Summary: LayoutSummary{
			PageCount: 1,
			Headings:  len(pl.Headings),
			Tables:    len(pl.Tables),
		},
	}
	return &Result{
		Text:   text,
		Pages:  []string{text},
		Layout: layout,
		Meta:   Meta{Extractor: "docx", Quality: AssessPage(text).Score},
	}
}

func (r *run) extractText(doc *RawDocument) *Result {
	h := r.p.cfg.Heuristics

	text, encoding := DecodeText(doc.Data)
	r.tb.Info("text-decode", fmt.Sprintf("encoding %s", encoding))

	text = strings.TrimSpace(text)
	paragraphs := strings.Split(text, "\n")
	pl := buildSyntheticLayout(paragraphs, 1, h)
	layout := &DocumentLayout{
		Pages: []PageLayout{pl},
		Summary: LayoutSummary{
			PageCount: 1,
			Headings:  len(pl.Headings),
			Tables:    len(pl.Tables),
		},
	}
	return &Result{
		Text:   text,
		Pages:  []string{text},
		Layout: layout,
		Meta:   Meta{Extractor: "text", Quality: AssessPage(text).Score},
	}
}

func (r *run) extractImage(ctx context.Context, doc *RawDocument, opts Options) *Result {
	if r.p.svc.OCR == nil {
		r.tb.Warn("image-ocr", "recognizer unavailable")
		return &Result{Pages: []string{""}, Meta: Meta{Extractor: "image-ocr"}}
	}

	languages := opts.OCR.Languages
	if len(languages) == 0 {
		languages = r.p.cfg.OCRLanguages
	}

	callCtx, cancel := context.WithTimeout(ctx, r.p.cfg.OCRTimeout)
	defer cancel()

	text, err := r.p.svc.OCR.Recognize(callCtx, doc.Data, languages)
	if err != nil {
		r.tb.Warn("image-ocr", err.Error())
		return &Result{Pages: []string{""}, Meta: Meta{Extractor: "image-ocr"}}
	}
	text = strings.TrimSpace(text)
	r.tb.Info("image-ocr", fmt.Sprintf("recognized %d chars", len([]rune(text))))
	return &Result{
		Text:  text,
		Pages: []string{text},
		Meta: Meta{
			Extractor: "image-ocr",
			UsedOCR:   true,
			Quality:   AssessPage(text).Score,
		},
	}
}

// extractBinary handles the kind nothing else claimed: the remote service
// may still know the format; otherwise the document is unreadable here.
func (r *run) extractBinary(ctx context.Context, doc *RawDocument) *Result {
	if res := r.remotePass(ctx, doc, Options{}); res != nil {
		return res
	}
	r.tb.Warn("binary", "unsupported input kind")
	return &Result{Pages: []string{""}, Meta: Meta{Extractor: "binary-unsupported"}}
}

// pageTextFromLayout reads the page's text in reconstruction order: lines
// top to bottom, blocks left to right within a line.
func pageTextFromLayout(pl PageLayout) string {
	var sb strings.Builder
	lastLine := -1
	for _, b := range pl.Blocks {
		t := strings.TrimSpace(b.Text)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			if b.Line != lastLine {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(t)
		lastLine = b.Line
	}
	return sb.String()
}

func nonEmpty(pages []string) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
