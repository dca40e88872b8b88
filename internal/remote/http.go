package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// PutRequest is the body of PUT /api/progress.
type PutRequest struct {
	CollectionID string          `json:"collectionId"`
	QuestionID   string          `json:"questionId"`
	Record       json.RawMessage `json:"progressRecord"`
}

// FetchResponse is the body returned by GET /api/progress.
type FetchResponse struct {
	CollectionID string                     `json:"collectionId"`
	Records      map[string]json.RawMessage `json:"records"`
}

// HTTPStore talks to the progress endpoints of another filldrilld.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store for the daemon at baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch returns every record of collectionID.
func (s *HTTPStore) Fetch(ctx context.Context, collectionID string) (map[string]*domain.ProgressRecord, error) {
	u := s.baseURL + "/api/progress?collection=" + url.QueryEscape(collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch progress: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body FetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	raw := make(map[string][]byte, len(body.Records))
	for qid, r := range body.Records {
		raw[qid] = r
	}
	return decodeRows(raw)
}

// Put sends the record of key.
func (s *HTTPStore) Put(ctx context.Context, key domain.RecordKey, r *domain.ProgressRecord) error {
	rec, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	body, err := json.Marshal(PutRequest{CollectionID: key.CollectionID, QuestionID: key.QuestionID, Record: rec})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/api/progress", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put progress: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Close is a no-op.
func (s *HTTPStore) Close() error { return nil }

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("remote progress API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
