package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Poppler renders pages by shelling out to pdftoppm. It is the default
// backend where poppler-utils is installed.
type Poppler struct {
	// Binary is the pdftoppm executable (default "pdftoppm").
	Binary string
	// DPI is the raster resolution (default 150).
	DPI int
}

// DetectPoppler reports whether pdftoppm is on PATH.
func DetectPoppler() bool {
	_, err := exec.LookPath("pdftoppm")
	return err == nil
}

func (p *Poppler) defaults() {
	if p.Binary == "" {
		p.Binary = "pdftoppm"
	}
	if p.DPI <= 0 {
		p.DPI = 150
	}
}

func (p *Poppler) Available() bool {
	p.defaults()
	_, err := exec.LookPath(p.Binary)
	return err == nil
}

// Open writes the PDF to a scratch file; pdftoppm reads from disk.
func (p *Poppler) Open(_ context.Context, pdf []byte) (Document, error) {
	p.defaults()
	dir, err := os.MkdirTemp("", "salvage-render-*")
	if err != nil {
		return nil, fmt.Errorf("render: scratch dir: %w", err)
	}
	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("render: write pdf: %w", err)
	}
	return &popplerDoc{binary: p.Binary, dpi: p.DPI, dir: dir, pdf: path}, nil
}

type popplerDoc struct {
	binary string
	dpi    int
	dir    string
	pdf    string
}

// RenderPage rasterizes a single 1-based page to PNG. The release func
// deletes the raster file; the decoded bytes stay with the caller.
func (d *popplerDoc) RenderPage(ctx context.Context, page int) (*Page, func(), error) {
	prefix := filepath.Join(d.dir, "page-"+strconv.Itoa(page))
	cmd := exec.CommandContext(ctx, d.binary,
		"-png",
		"-r", strconv.Itoa(d.dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-singlefile",
		d.pdf, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, nil, fmt.Errorf("render: pdftoppm page %d: %w: %s", page, err, bytes.TrimSpace(out))
	}

	rasterPath := prefix + ".png"
	data, err := os.ReadFile(rasterPath)
	if err != nil {
		return nil, nil, fmt.Errorf("render: read raster: %w", err)
	}
	release := func() { os.Remove(rasterPath) }

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("render: decode raster: %w", err)
	}
	return &Page{PNG: data, Width: cfg.Width, Height: cfg.Height}, release, nil
}

func (d *popplerDoc) Close() error {
	return os.RemoveAll(d.dir)
}
