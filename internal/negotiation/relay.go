package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/peermeet/call-server-go/internal/signaling"
)

// RelayClient talks to the signaling REST surface. Absent artifacts come
// back as nil rather than errors so polling loops can distinguish "not yet"
// from real failures.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *RelayClient) PostOffer(ctx context.Context, roomID, sdp string) error {
	return c.postJSON(ctx, fmt.Sprintf("%s/signaling/%s/offer", c.baseURL, roomID), map[string]string{"sdp": sdp})
}

func (c *RelayClient) PostAnswer(ctx context.Context, roomID, sdp string) error {
	return c.postJSON(ctx, fmt.Sprintf("%s/signaling/%s/answer", c.baseURL, roomID), map[string]string{"sdp": sdp})
}

func (c *RelayClient) GetOffer(ctx context.Context, roomID string) (*signaling.Signal, error) {
	return c.getSignal(ctx, fmt.Sprintf("%s/signaling/%s/offer", c.baseURL, roomID))
}

func (c *RelayClient) GetAnswer(ctx context.Context, roomID string) (*signaling.Signal, error) {
	return c.getSignal(ctx, fmt.Sprintf("%s/signaling/%s/answer", c.baseURL, roomID))
}

func (c *RelayClient) PostCandidate(ctx context.Context, roomID string, candidate json.RawMessage, from signaling.Role) error {
	return c.postJSON(ctx, fmt.Sprintf("%s/signaling/%s/candidates", c.baseURL, roomID), map[string]any{
		"candidate": candidate,
		"from":      from,
	})
}

func (c *RelayClient) DrainCandidates(ctx context.Context, roomID string, forRole signaling.Role) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s/signaling/%s/candidates?role=%s", c.baseURL, roomID, forRole)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The room is created by the first post; draining before that is "not
	// yet", not a failure.
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drain candidates: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Candidates []json.RawMessage `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Candidates, nil
}

func (c *RelayClient) postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

func (c *RelayClient) getSignal(ctx context.Context, url string) (*signaling.Signal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	var signal signaling.Signal
	if err := json.NewDecoder(resp.Body).Decode(&signal); err != nil {
		return nil, err
	}
	return &signal, nil
}
