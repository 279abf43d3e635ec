package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// rowSchema is the fixed ingestion contract: a row must carry a non-empty
// selector and at least one url. Everything else is optional and loosely
// typed on the wire.
const rowSchema = `{
	"type": "object",
	"properties": {
		"selector": {"type": "string", "minLength": 1},
		"url": {"type": ["string", "array"], "minLength": 1},
		"urls": {"type": "array", "minItems": 1}
	},
	"required": ["selector"],
	"anyOf": [
		{"required": ["url"]},
		{"required": ["urls"]}
	]
}`

var compiledRowSchema = jsonschema.MustCompileString("manifest-row.json", rowSchema)

// document is the remote manifest envelope.
type document struct {
	Data []Row `json:"data"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.hc = client
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDecoder replaces the default row decoder.
func WithDecoder(decoder *Decoder) ClientOption {
	return func(c *Client) {
		if decoder != nil {
			c.decoder = decoder
		}
	}
}

// Client fetches and normalizes remote manifests.
type Client struct {
	hc      *http.Client
	log     *zap.Logger
	decoder *Decoder
}

// NewClient constructs a manifest client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: 10 * time.Second},
		log:     zap.NewNop(),
		decoder: NewDecoder(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Fetch retrieves the manifest document at url and returns its valid rows:
// keys lower-cased, rows failing the ingestion schema dropped with a
// warning.
func (c *Client) Fetch(ctx context.Context, url string) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("manifest: fetch: unexpected status %d", resp.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}

	rows := make([]Row, 0, len(doc.Data))
	for i, raw := range doc.Data {
		row, err := LowercaseKeys(raw)
		if err != nil {
			continue
		}
		if err := compiledRowSchema.Validate(map[string]any(row)); err != nil {
			c.log.Warn("manifest row discarded",
				zap.String("manifest", url),
				zap.Int("row", i),
				zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Entries fetches, aggregates and decodes the manifest rows applying to
// pagePath. Rows merge per key; merged rows that fail decoding are dropped
// with a warning.
func (c *Client) Entries(ctx context.Context, url, pagePath string, key GroupKeyFunc) ([]*Entry, error) {
	rows, err := c.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if key == nil {
		key = SelectorKey
	}

	merged := Aggregate(rows, key, WithAggregateLogger(c.log))
	entries := make([]*Entry, 0, len(merged))
	for _, row := range merged {
		entry, err := c.decoder.Decode(row)
		if err != nil {
			c.log.Warn("manifest entry discarded",
				zap.String("manifest", url),
				zap.Error(err))
			continue
		}
		if !entry.AppliesTo(pagePath) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
