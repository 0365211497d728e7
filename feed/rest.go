package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/metachris/mevguard/common"
	"github.com/sugawarayuuta/sonnet"
)

// FetchBundle pulls a single bundle by id from the feed's REST API (GET <rest>/bundles/<id>),
// independently of the push connection.
func (c *Client) FetchBundle(ctx context.Context, id string) (*common.Bundle, error) {
	if id == "" {
		return nil, common.InvalidRequest("bundle id is required")
	}
	if c.restURL == "" {
		return nil, common.InvalidRequest("no feed REST url configured")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/bundles/%s", strings.TrimSuffix(c.restURL, "/"), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, common.InvalidRequest("cannot build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.Unavailable(err, "fetch bundle")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.Unavailable(err, "fetch bundle")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, common.ProtocolError("bundle %s not found", id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, common.Unavailable(fmt.Errorf("status %d", resp.StatusCode), "fetch bundle")
	}

	// some APIs wrap the bundle in {"bundle": {...}}
	var wrapped struct {
		Bundle *bundleMessage `json:"bundle"`
	}
	if err := sonnet.Unmarshal(body, &wrapped); err == nil && wrapped.Bundle != nil {
		return wrapped.Bundle.normalize(c.now())
	}
	return ParseBundle(body, c.now())
}
