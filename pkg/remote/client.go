package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Client implements api.RemoteRepository against the registry REST API.
//
// Expected remote conditions (404, 403) translate to
// api.ErrAssetUnavailable so resolution degrades instead of aborting. A
// 401 additionally fires the OnAuthLost hook, which consumers use to
// reset remote metadata caches.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *observability.Logger

	// OnAuthLost is invoked (at most once per response) when the remote
	// rejects our credentials. May be nil.
	OnAuthLost func()
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTracing wraps the transport with OpenTelemetry instrumentation.
func WithTracing() ClientOption {
	return func(c *Client) {
		c.http.Transport = otelhttp.NewTransport(c.http.Transport)
	}
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = timeout }
}

// NewClient creates a registry client.
func NewClient(baseURL string, logger *observability.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		logger:  logger,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: http.DefaultTransport,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) assetURL(id api.AssetIdentifier, suffix string) string {
	u := fmt.Sprintf("%s/orgs/%s/projects/%s/assets/%s",
		c.baseURL,
		url.PathEscape(id.OrgID),
		url.PathEscape(id.ProjectID),
		url.PathEscape(id.AssetID),
	)
	return u + suffix
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		return api.ErrAssetUnavailable
	case http.StatusUnauthorized:
		if c.OnAuthLost != nil {
			c.OnAuthLost()
		}
		return fmt.Errorf("registry rejected credentials: %w", api.ErrAssetUnavailable)
	default:
		return fmt.Errorf("registry returned %d for %s", resp.StatusCode, rawURL)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

// GetAsset fetches the snapshot for the exact version named by id.
func (c *Client) GetAsset(ctx context.Context, id api.AssetIdentifier) (*api.AssetData, error) {
	if !id.IsValid() || id.Version == "" {
		return nil, api.ErrInvalidIdentifier
	}
	var data api.AssetData
	if err := c.getJSON(ctx, c.assetURL(id, "/versions/"+url.PathEscape(id.Version)), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetLatestVersion fetches the latest available snapshot of the asset.
func (c *Client) GetLatestVersion(ctx context.Context, id api.AssetIdentifier) (*api.AssetData, error) {
	if !id.IsValid() {
		return nil, api.ErrInvalidIdentifier
	}
	var data api.AssetData
	if err := c.getJSON(ctx, c.assetURL(id, "/versions/latest"), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetDependencies fetches the declared direct dependencies of id.
func (c *Client) GetDependencies(ctx context.Context, id api.AssetIdentifier) ([]api.AssetIdentifier, error) {
	if !id.IsValid() {
		return nil, api.ErrInvalidIdentifier
	}
	version := id.Version
	if version == "" {
		version = "latest"
	}
	var deps []api.AssetIdentifier
	if err := c.getJSON(ctx, c.assetURL(id, "/versions/"+url.PathEscape(version)+"/dependencies"), &deps); err != nil {
		return nil, err
	}
	return deps, nil
}

// GetDownloadURLs returns a mapping of remote-relative file path to the
// byte-source reference for every file of the asset.
func (c *Client) GetDownloadURLs(ctx context.Context, asset *api.AssetData) (map[string]string, error) {
	if asset == nil || !asset.ID.IsValid() {
		return nil, api.ErrInvalidIdentifier
	}
	var urls map[string]string
	err := c.getJSON(ctx, c.assetURL(asset.ID, "/versions/"+url.PathEscape(asset.ID.Version)+"/files"), &urls)
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// Download opens the byte stream behind a reference returned by
// GetDownloadURLs. The caller owns the returned reader.
func (c *Client) Download(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download of %s failed: %w", ref, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
			return nil, api.ErrAssetUnavailable
		}
		return nil, fmt.Errorf("download of %s returned %d", ref, resp.StatusCode)
	}
	return resp.Body, nil
}
