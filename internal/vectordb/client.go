// Package vectordb is a minimal Qdrant HTTP client covering the
// operations the engine needs: query, upsert, collection bootstrap, and
// snapshot creation.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate-labs/chessmate/internal/metrics"
)

// Client talks to one Qdrant instance over its REST API.
type Client struct {
	cfg  Config
	http *http.Client
	base string
	log  *zap.Logger
}

// New builds a client. The URL is validated at config load.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		base: strings.TrimRight(cfg.URL, "/"),
		log:  logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

type queryRequest struct {
	Query       []float32              `json:"query"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
}

type queryResponse struct {
	Result struct {
		Points []Point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query runs a vector search with an optional payload filter.
func (c *Client) Query(ctx context.Context, vec []float32, limit int, filter map[string]interface{}) ([]Point, error) {
	start := time.Now()
	body := queryRequest{Query: vec, Limit: limit, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(body)

	url := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("qdrant query status %d", resp.StatusCode)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearchMetrics(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return qr.Result.Points, nil
}

// Upsert inserts or updates points in the collection.
func (c *Client) Upsert(ctx context.Context, points []UpsertItem) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]interface{}{"points": points}
	buf, _ := json.Marshal(body)

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates the collection if it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.cfg.VectorSize,
			"distance": c.cfg.Distance,
		},
	}
	buf, _ := json.Marshal(body)
	req, err = http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant create collection status %d", resp.StatusCode)
	}
	c.log.Info("Created vector collection",
		zap.String("collection", c.cfg.Collection),
		zap.Int("size", c.cfg.VectorSize),
	)
	return nil
}

type snapshotResponse struct {
	Result SnapshotInfo `json:"result"`
	Status string       `json:"status"`
}

// CreateSnapshot asks the server to snapshot the collection and returns
// its descriptor for the operator catalogue.
func (c *Client) CreateSnapshot(ctx context.Context) (SnapshotInfo, error) {
	url := fmt.Sprintf("%s/collections/%s/snapshots", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return SnapshotInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return SnapshotInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SnapshotInfo{}, fmt.Errorf("qdrant snapshot status %d", resp.StatusCode)
	}
	var sr snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return SnapshotInfo{}, err
	}
	return sr.Result, nil
}

// Ping verifies the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/collections", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant status %d", resp.StatusCode)
	}
	return nil
}
