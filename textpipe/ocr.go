package textpipe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/salvage/render"
)

// Recognizer is the OCR capability: given a raster image and language
// hints, return recognized text. Absence of the capability degrades to
// "OCR unavailable", it never aborts an extraction.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, languages []string) (string, error)
}

// HTTPRecognizer submits a base64 PNG to a remote recognition service and
// reads back { text }.
type HTTPRecognizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPRecognizer builds the client. An empty endpoint means the
// capability is absent; callers should then pass a nil Recognizer instead.
func NewHTTPRecognizer(endpoint, apiKey string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRecognizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, image []byte, languages []string) (string, error) {
	if r.endpoint == "" {
		return "", fmt.Errorf("ocr: %w: no endpoint configured", ErrStageUnavailable)
	}

	body, err := json.Marshal(map[string]any{
		"image":     base64.StdEncoding.EncodeToString(image),
		"format":    "png",
		"languages": languages,
	})
	if err != nil {
		return "", fmt.Errorf("ocr: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("ocr: status %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("ocr: decode: %w", err)
	}
	return payload.Text, nil
}

// ocrPageSet renders and recognizes the given 1-based pages of a PDF,
// returning recognized text per page. Renders are scoped: every raster is
// released before the next page starts, on success and failure alike.
// Per-page failures become trace entries and the page is simply absent
// from the map.
func (r *run) ocrPageSet(ctx context.Context, doc *RawDocument, pages []int, opts Options) map[int]string {
	out := make(map[int]string)
	if r.p.svc.OCR == nil {
		r.tb.Warn("ocr", "recognizer unavailable")
		return out
	}
	if r.p.svc.Renderer == nil || !r.p.svc.Renderer.Available() {
		r.tb.Warn("ocr", "renderer unavailable")
		return out
	}

	session, err := r.p.svc.Renderer.Open(ctx, doc.Data)
	if err != nil {
		r.tb.Warn("ocr", fmt.Sprintf("render session: %v", err))
		return out
	}
	defer session.Close()

	languages := opts.OCR.Languages
	if len(languages) == 0 {
		languages = r.p.cfg.OCRLanguages
	}

	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)

	for _, pageNr := range sorted {
		if ctx.Err() != nil {
			r.tb.Warn("ocr", "cancelled")
			return out
		}
		text, img, err := r.ocrOnePage(ctx, session, pageNr, languages)
		if err != nil {
			r.tb.Warn("ocr", fmt.Sprintf("page %d: %v", pageNr, err))
			continue
		}
		out[pageNr] = text
		r.tb.Info("ocr", fmt.Sprintf("page %d recognized (%d chars)", pageNr, len([]rune(text))))

		if opts.UploadImages && r.p.svc.Uploader != nil && img != nil {
			r.uploadPageImage(ctx, pageNr, img)
		}
	}
	return out
}

// ocrOnePage holds the raster only for the duration of one recognition
// call. The release runs on every exit path.
func (r *run) ocrOnePage(ctx context.Context, session render.Document, pageNr int, languages []string) (string, *render.Page, error) {
	renderCtx, cancel := context.WithTimeout(ctx, r.p.cfg.OCRTimeout)
	defer cancel()

	page, release, err := session.RenderPage(renderCtx, pageNr)
	if err != nil {
		return "", nil, err
	}
	defer release()

	text, err := r.p.svc.OCR.Recognize(renderCtx, page.PNG, languages)
	if err != nil {
		return "", nil, err
	}
	// the PNG is copied so releasing the raster above stays safe
	img := &render.Page{PNG: append([]byte(nil), page.PNG...), Width: page.Width, Height: page.Height}
	return text, img, nil
}

func (r *run) uploadPageImage(ctx context.Context, pageNr int, img *render.Page) {
	url, err := r.p.svc.Uploader.Upload(ctx, img.PNG, "image/png")
	if err != nil {
		r.tb.Warn("upload", fmt.Sprintf("page %d image: %v", pageNr, err))
		return
	}
	if url == "" {
		return
	}
	r.pageImages = append(r.pageImages, PageImage{
		Page:   pageNr,
		URL:    url,
		Width:  img.Width,
		Height: img.Height,
	})
	r.tb.Info("upload", fmt.Sprintf("page %d image stored", pageNr))
}

// ocrFullDocument runs OCR across the whole document up to the page limit
// and returns one entry per page (empty where recognition failed).
func (r *run) ocrFullDocument(ctx context.Context, doc *RawDocument, pageCount int, opts Options) []string {
	limit := opts.OCR.PageLimit
	if limit <= 0 {
		limit = r.p.cfg.OCRPageLimit
	}
	if pageCount <= 0 {
		pageCount = 1
	}
	n := pageCount
	if n > limit {
		n = limit
		r.tb.Info("ocr", fmt.Sprintf("page limit %d of %d", limit, pageCount))
	}

	targets := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		targets = append(targets, i)
	}
	recognized := r.ocrPageSet(ctx, doc, targets, opts)

	pages := make([]string, pageCount)
	for nr, text := range recognized {
		if nr-1 < len(pages) {
			pages[nr-1] = strings.TrimSpace(text)
		}
	}
	return pages
}
