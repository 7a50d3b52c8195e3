package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Transport delivers tracking calls to the collection API. Post is a normal
// request whose response the agent may need. Beacon is best-effort: it must
// return immediately and keep trying after the caller has gone away.
type Transport interface {
	Post(ctx context.Context, path string, body, out any) error
	Beacon(path string, body any) bool
}

// HTTPTransport talks to the collection API over net/http. Beacons are sent
// as text/plain from a detached goroutine, the same shape a browser's
// navigator.sendBeacon produces.
type HTTPTransport struct {
	BaseURL       string
	Client        *http.Client
	BeaconTimeout time.Duration
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Client:        &http.Client{Timeout: 10 * time.Second},
		BeaconTimeout: 5 * time.Second,
	}
}

func (t *HTTPTransport) Post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (t *HTTPTransport) Beacon(path string, body any) bool {
	payload, err := json.Marshal(body)
	if err != nil {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.BeaconTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
		resp, err := t.Client.Do(req)
		if err != nil {
			return
		}
		resp.Body.Close()
	}()
	return true
}
