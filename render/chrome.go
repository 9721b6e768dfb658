package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ChromeConfig configures the headless-Chrome renderer.
type ChromeConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local headless instance.
	RemoteURL string

	Logger *slog.Logger
}

func (c *ChromeConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Chrome renders PDF pages by loading the file in headless Chrome's PDF
// viewer and screenshotting. Fallback backend for hosts without poppler.
// The browser handle is shared across sessions and recycled on Close.
type Chrome struct {
	cfg ChromeConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewChrome creates the renderer. Chrome launches lazily on first Open.
func NewChrome(cfg ChromeConfig) *Chrome {
	cfg.defaults()
	return &Chrome{cfg: cfg}
}

func (c *Chrome) Available() bool {
	if c.cfg.RemoteURL != "" {
		return true
	}
	_, has := launcher.LookPath()
	return has
}

func (c *Chrome) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	controlURL := c.cfg.RemoteURL
	if controlURL == "" {
		lnch := launcher.New().Headless(true)
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("render: launch chrome: %w", err)
		}
		c.lnch = lnch
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("render: connect chrome: %w", err)
	}
	c.browser = browser
	c.cfg.Logger.Debug("chrome renderer connected", "remote", c.cfg.RemoteURL != "")
	return browser, nil
}

func (c *Chrome) Open(_ context.Context, pdf []byte) (Document, error) {
	browser, err := c.connect()
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "salvage-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("render: scratch dir: %w", err)
	}
	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("render: write pdf: %w", err)
	}
	return &chromeDoc{browser: browser, dir: dir, url: "file://" + path}, nil
}

// Close tears down the shared browser. Open sessions become invalid.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			return err
		}
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
	return nil
}

type chromeDoc struct {
	browser *rod.Browser
	dir     string
	url     string
}

// RenderPage opens a tab on the viewer anchored at the requested page and
// screenshots it. The release func closes the tab, which frees the raster
// buffers Chrome holds for it.
func (d *chromeDoc) RenderPage(ctx context.Context, pageNr int) (*Page, func(), error) {
	tab, err := d.browser.Page(proto.TargetCreateTarget{
		URL: d.url + "#page=" + strconv.Itoa(pageNr),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("render: open tab: %w", err)
	}
	release := func() { _ = tab.Close() }

	tab = tab.Context(ctx)
	if err := tab.WaitLoad(); err != nil {
		release()
		return nil, nil, fmt.Errorf("render: load pdf page %d: %w", pageNr, err)
	}

	shot, err := tab.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("render: screenshot page %d: %w", pageNr, err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(shot))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("render: decode screenshot: %w", err)
	}
	return &Page{PNG: shot, Width: cfg.Width, Height: cfg.Height}, release, nil
}

func (d *chromeDoc) Close() error {
	return os.RemoveAll(d.dir)
}
