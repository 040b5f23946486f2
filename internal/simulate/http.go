package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/types"
)

// ErrStatus is returned for unexpected HTTP responses.
var ErrStatus = errors.New("unexpected status")

// HTTPNode implements Node over the node HTTP API.
type HTTPNode struct {
	baseURL string
	client  *http.Client
}

// NewHTTPNode creates a client for baseURL.
func NewHTTPNode(baseURL string, timeout time.Duration) *HTTPNode {
	return &HTTPNode{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNode) do(ctx context.Context, method, path string, body, out any, ok ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	for _, code := range ok {
		if resp.StatusCode == code {
			if out != nil {
				return resp.StatusCode, json.Unmarshal(data, out)
			}
			return resp.StatusCode, nil
		}
	}
	return resp.StatusCode, fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, path, resp.StatusCode, bytes.TrimSpace(data))
}

// State implements Node.
func (n *HTTPNode) State(ctx context.Context, height uint64) (*tournament.Snapshot, error) {
	var snap tournament.Snapshot
	if _, err := n.do(ctx, http.MethodGet, fmt.Sprintf("/tournament/%d", height), nil, &snap, http.StatusOK); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Broadcast implements Node. Duplicates count as delivered.
func (n *HTTPNode) Broadcast(ctx context.Context, m model.Message) error { //nolint:gocritic // hugeParam
	_, err := n.do(ctx, http.MethodPost, "/messages", m, nil, http.StatusAccepted, http.StatusOK)
	return err
}

// Eligible returns the node's eligible set.
func (n *HTTPNode) Eligible(ctx context.Context) ([]types.ParticipantID, error) {
	var resp struct {
		Participants []types.ParticipantID `json:"participants"`
	}
	if _, err := n.do(ctx, http.MethodGet, "/eligible", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

// Height returns the node's last produced height.
func (n *HTTPNode) Height(ctx context.Context) (uint64, error) {
	var stats struct {
		Height uint64 `json:"height"`
	}
	if _, err := n.do(ctx, http.MethodGet, "/stats", nil, &stats, http.StatusOK); err != nil {
		return 0, err
	}
	return stats.Height, nil
}

// Health checks that the node answers.
func (n *HTTPNode) Health(ctx context.Context) error {
	_, err := n.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
	return err
}
