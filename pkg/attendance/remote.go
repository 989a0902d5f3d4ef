package attendance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pario-ai/facegate/pkg/models"
)

// Remote is the central attendance service.
type Remote interface {
	Post(ctx context.Context, rec models.AttendanceRecord) error
	List(ctx context.Context) ([]models.AttendanceRecord, error)
}

// wireRecord is the JSON shape the attendance service speaks.
type wireRecord struct {
	ID         string  `json:"id,omitempty"`
	UserID     string  `json:"userId"`
	Similarity float64 `json:"similarity"`
	Timestamp  string  `json:"timestamp"`
}

// HTTPRemote talks to the attendance service at BaseURL (for example
// http://host:3000/api) using POST and GET on /attendance.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates an HTTPRemote.
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Post submits rec.
func (r *HTTPRemote) Post(ctx context.Context, rec models.AttendanceRecord) error {
	body, err := json.Marshal(wireRecord{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Similarity: rec.Similarity,
		Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal attendance: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/attendance", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create attendance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post attendance: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post attendance: HTTP %d", resp.StatusCode)
	}
	return nil
}

// List fetches all records known to the service.
func (r *HTTPRemote) List(ctx context.Context) ([]models.AttendanceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/attendance", nil)
	if err != nil {
		return nil, fmt.Errorf("create attendance request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list attendance: HTTP %d", resp.StatusCode)
	}

	var wire []wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode attendance: %w", err)
	}

	records := make([]models.AttendanceRecord, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse attendance timestamp %q: %w", w.Timestamp, err)
		}
		records = append(records, models.AttendanceRecord{
			ID:         w.ID,
			UserID:     w.UserID,
			Similarity: w.Similarity,
			Timestamp:  ts,
			Synced:     true,
		})
	}
	return records, nil
}
