package txstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

// UpsertRequest is the body of POST /transaction-states
type UpsertRequest struct {
	ID string `json:"id"`
	models.Patch
}

// HTTPStore talks to the persistence backend served by pkg/server
type HTTPStore struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewHTTPStore creates a store backed by the API at endpoint
func NewHTTPStore(endpoint string, log logger.Logger) *HTTPStore {
	return &HTTPStore{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log,
	}
}

func (s *HTTPStore) Upsert(ctx context.Context, id string, patch models.Patch) (*models.TransactionState, error) {
	payload, err := json.Marshal(UpsertRequest{ID: id, Patch: patch})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upsert: %v", err)
	}

	var rec models.TransactionState
	if err := s.do(ctx, http.MethodPost, "/transaction-states", payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *HTTPStore) Get(ctx context.Context, id string) (*models.TransactionState, error) {
	var rec models.TransactionState
	if err := s.do(ctx, http.MethodGet, "/transaction-states/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *HTTPStore) List(ctx context.Context, filter models.ListFilter) ([]*models.TransactionState, error) {
	params := url.Values{}
	if filter.User != "" {
		params.Set("user", filter.User)
	}
	if filter.Status != "" {
		params.Set("status", string(filter.Status))
	}
	if filter.View != models.ViewAll {
		params.Set("view", string(filter.View))
	}

	path := "/transaction-states"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var recs []*models.TransactionState
	if err := s.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPStore) do(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transaction state request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			s.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		var e errorResponse
		_ = json.Unmarshal(bodyBytes, &e)
		return fmt.Errorf("%w: %s", ErrInvalidTransition, e.Error)
	}
	return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
}
