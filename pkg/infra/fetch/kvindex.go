package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jguan/solverd/pkg/infra/cache"
)

// KVIndex reads model digests from an HTTP key-value service. Values are
// fetched from <baseURL>/<model> and authenticated with service-token
// headers.
type KVIndex struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	digests      *cache.Cache[string]
}

type KVIndexOption func(*KVIndex)

func WithKVHTTPClient(client *http.Client) KVIndexOption {
	return func(k *KVIndex) {
		k.httpClient = client
	}
}

// WithKVCacheTTL memoizes successful lookups for ttl. Zero disables the
// cache.
func WithKVCacheTTL(ttl time.Duration) KVIndexOption {
	return func(k *KVIndex) {
		if ttl > 0 {
			k.digests = cache.New[string](cache.WithTTL(ttl), cache.WithMaxSize(1024))
		} else {
			k.digests = nil
		}
	}
}

func NewKVIndex(baseURL, clientID, clientSecret string, opts ...KVIndexOption) *KVIndex {
	k := &KVIndex{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *KVIndex) Digest(ctx context.Context, model string) (string, error) {
	if k.digests != nil {
		if d, ok := k.digests.Get(model); ok {
			return d, nil
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/"+url.PathEscape(model), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("CF-Access-Client-Id", k.clientID)
	httpReq.Header.Set("CF-Access-Client-Secret", k.clientSecret)

	httpResp, err := k.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	// digests are 64 hex characters; anything much larger is not a digest
	respData, err := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return "", fmt.Errorf("digest index: status %d, body: %s", httpResp.StatusCode, strings.TrimSpace(string(respData)))
	}

	digest := strings.ToLower(strings.TrimSpace(string(respData)))
	if digest == "" {
		return "", fmt.Errorf("digest index: empty value for %s", model)
	}

	if k.digests != nil {
		k.digests.Set(model, digest, 0)
	}
	return digest, nil
}

var _ DigestIndex = (*KVIndex)(nil)
