// Package transport is the internode HTTP client for schema exchange:
// a synchronous pull of a peer's full definition set and a one-way push of
// an encoded mutation batch.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"schemadb/pkg/types"
)

// CurrentVersion is the protocol major version this node speaks. Peers with
// a strictly newer major are never pulled from; peers with a strictly older
// major are never pushed to.
const CurrentVersion types.ProtoVersion = 3

// ProtoHeader carries the caller's protocol major version.
const ProtoHeader = "X-Schemadb-Proto"

const (
	PullEndpoint = "/internal/schema"
	PushEndpoint = "/internal/definitions"

	defaultTimeout = 10 * time.Second
	maxPullBytes   = 64 << 20
)

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PullSchema requests the full definition set of a peer. The response body
// is an encoded mutation batch; decoding belongs to the caller.
func (c *Client) PullSchema(ctx context.Context, addr types.NodeID) ([]byte, error) {
	url := fmt.Sprintf("http://%s%s", addr, PullEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(ProtoHeader, strconv.Itoa(int(CurrentVersion)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schema pull from %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schema pull from %s: status %d", addr, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPullBytes))
	if err != nil {
		return nil, fmt.Errorf("schema pull from %s: read body: %w", addr, err)
	}
	return data, nil
}

// PushDefinitions ships an encoded batch to a peer, one-way. The peer
// acknowledges receipt, not application.
func (c *Client) PushDefinitions(addr types.NodeID, encoded []byte) error {
	url := fmt.Sprintf("http://%s%s", addr, PushEndpoint)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(ProtoHeader, strconv.Itoa(int(CurrentVersion)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("definitions push to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("definitions push to %s: status %d", addr, resp.StatusCode)
	}
	return nil
}
