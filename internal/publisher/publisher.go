// Package publisher implements the time-series point sink from spec.md
// §4.7/§6: a point API (measurement, tag set, field set) with a
// synchronous-acknowledgement HTTP writer, modeled on the teacher's
// internal/prometheus.Client http.Client usage.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/libreqos/lqosd/internal/config"
)

// Point is one time-series measurement emission.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Publisher accepts batches of points. WriteBatch blocks until the
// remote side has acknowledged the write (or failed it) — spec.md §6:
// "writer batched, synchronous acknowledgement".
type Publisher interface {
	WriteBatch(ctx context.Context, points []Point) error
}

// BatchSize is the circuit-point chunking size from spec.md §4.7
// ("Write batching: circuit points are chunked... batch size ~200").
const BatchSize = 200

// HTTPPublisher posts each point batch as a single JSON document (bucket,
// org and a points array) to a configured time-series URL.
type HTTPPublisher struct {
	client *http.Client
	cfg    config.TimeSeriesConfig
}

// NewHTTPPublisher returns an HTTPPublisher, or nil if the time-series
// sink is disabled in configuration.
func NewHTTPPublisher(cfg config.TimeSeriesConfig) *HTTPPublisher {
	if !cfg.Enabled {
		return nil
	}
	return &HTTPPublisher{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
	}
}

type wireBatch struct {
	Bucket string      `json:"bucket"`
	Org    string      `json:"org"`
	Points []wirePoint `json:"points"`
}

type wirePoint struct {
	Measurement string         `json:"measurement"`
	Tags        map[string]string `json:"tags"`
	Fields      map[string]any `json:"fields"`
	Time        time.Time      `json:"time"`
}

// WriteBatch posts points to cfg.URL and blocks for the response,
// surfacing a PublisherUnavailable-class error on failure (spec.md §7:
// "publisher write failure is surfaced but not retried within the
// scrape").
func (p *HTTPPublisher) WriteBatch(ctx context.Context, points []Point) error {
	if p == nil || len(points) == 0 {
		return nil
	}

	batch := wireBatch{Bucket: p.cfg.Bucket, Org: p.cfg.Org}
	for _, pt := range points {
		batch.Points = append(batch.Points, wirePoint{
			Measurement: pt.Measurement,
			Tags:        pt.Tags,
			Fields:      pt.Fields,
			Time:        pt.Time,
		})
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("publisher: encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("publisher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+p.cfg.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publisher: write batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("publisher: remote rejected batch with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// WriteBatched splits points into BatchSize-sized chunks and writes each
// in order, stopping (and returning) at the first failure.
func WriteBatched(ctx context.Context, pub Publisher, points []Point) error {
	if pub == nil {
		return nil
	}
	for start := 0; start < len(points); start += BatchSize {
		end := start + BatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := pub.WriteBatch(ctx, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}
