package textpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// RemoteResult is what the remote extraction collaborator returns.
type RemoteResult struct {
	Text      string   `json:"text"`
	Pages     []string `json:"pages,omitempty"`
	Extractor string   `json:"extractor,omitempty"`
}

// RemoteExtractor delegates extraction to an external service. Any failure
// (transport, non-2xx, malformed JSON) means "fallback unavailable" to the
// orchestrator, never a hard error.
type RemoteExtractor interface {
	Extract(ctx context.Context, doc *RawDocument) (*RemoteResult, error)
}

// RemoteClient posts the document as a multipart upload to a single HTTP
// endpoint and decodes { text, meta: { pages, extractor } }.
type RemoteClient struct {
	endpoint string
	client   *http.Client
}

// NewRemoteClient builds a client with a bounded timeout. Timeout is a
// normal fallback-continue condition for the pipeline.
func NewRemoteClient(endpoint string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the configured URL, empty when the fallback is disabled.
func (c *RemoteClient) Endpoint() string { return c.endpoint }

func (c *RemoteClient) Extract(ctx context.Context, doc *RawDocument) (*RemoteResult, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("remote: %w: no endpoint configured", ErrStageUnavailable)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", doc.Name)
	if err != nil {
		return nil, fmt.Errorf("remote: build form: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, fmt.Errorf("remote: write form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("remote: status %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
	}

	var payload struct {
		Text string `json:"text"`
		Meta struct {
			Pages     []string `json:"pages"`
			Extractor string   `json:"extractor"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("remote: decode: %w", err)
	}

	return &RemoteResult{
		Text:      payload.Text,
		Pages:     payload.Meta.Pages,
		Extractor: payload.Meta.Extractor,
	}, nil
}
