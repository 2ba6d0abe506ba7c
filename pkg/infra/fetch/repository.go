package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jguan/solverd/pkg/errs"
)

// Client downloads release assets from a public repository addressed as
// <baseURL>/<name>.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// AssetURL returns the download URL of the named asset.
func (c *Client) AssetURL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

// Download opens the named asset. The returned size is -1 when the server
// does not announce a Content-Length.
func (c *Client) Download(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AssetURL(name), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpReq.Header.Set("Accept", "application/octet-stream")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}

	if httpResp.StatusCode == http.StatusNotFound {
		httpResp.Body.Close()
		return nil, 0, fmt.Errorf("model %s is not published", name)
	}
	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		respData, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, 0, fmt.Errorf("download %s: status %d, body: %s", name, httpResp.StatusCode, string(respData))
	}

	return httpResp.Body, httpResp.ContentLength, nil
}

// RepositoryBackend fetches models from a public release repository.
//
// A local copy, once present, is never re-checked: the repository offers no
// digest to compare with, so models are only upgraded by deleting the cached
// file.
type RepositoryBackend struct {
	client *Client
}

func NewRepositoryBackend(client *Client) *RepositoryBackend {
	return &RepositoryBackend{client: client}
}

func (b *RepositoryBackend) Name() string { return "github" }

func (b *RepositoryBackend) Fetch(ctx context.Context, req Request) (*Artifact, error) {
	if FileExists(req.LocalPath) {
		return nil, errs.ErrUpToDate
	}

	body, size, err := b.client.Download(ctx, req.Model)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindFetchFailed, "fetch %s from repository", req.Model)
	}

	return &Artifact{Body: body, Size: size}, nil
}

var _ Backend = (*RepositoryBackend)(nil)
