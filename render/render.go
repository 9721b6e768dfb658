// Package render rasterizes PDF pages for OCR. The pipeline codes against
// the Renderer capability; which implementation exists (poppler subprocess,
// headless Chrome, or none at all) is decided once at startup instead of
// being probed inline.
package render

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no rasterization backend exists. The
// pipeline treats it as "skip the OCR strategy", never as a fatal error.
var ErrUnavailable = errors.New("render: no rasterization backend available")

// Page is one rendered page raster.
type Page struct {
	PNG    []byte
	Width  int
	Height int
}

// Document is an open rendering session for one PDF. Page rasters are
// memory-heavy, so RenderPage hands back a release func that must be called
// on every exit path; Close tears the session down.
type Document interface {
	RenderPage(ctx context.Context, page int) (*Page, func(), error)
	Close() error
}

// Renderer opens rendering sessions.
type Renderer interface {
	Available() bool
	Open(ctx context.Context, pdf []byte) (Document, error)
}

// Unavailable is the explicit no-backend implementation, used on hosts
// without poppler or Chrome.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Open(context.Context, []byte) (Document, error) {
	return nil, ErrUnavailable
}
