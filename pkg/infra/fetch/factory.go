package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jguan/solverd/pkg/config"
)

// New builds the backend selected by cfg.Backend. The object-storage backend
// performs a network round trip to verify the bucket.
func New(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendGithub:
		client := NewClient(cfg.Repository.URL, cfg.Repository.Token)
		if cfg.Repository.TimeoutD > 0 {
			client.SetHTTPClient(&http.Client{Timeout: cfg.Repository.TimeoutD})
		}
		return NewRepositoryBackend(client), nil

	case config.BackendR2:
		bucket, err := NewR2Bucket(ctx, R2Options{
			Endpoint:        cfg.R2.Endpoint,
			Bucket:          cfg.R2.Bucket,
			AccessKeyID:     cfg.R2.AccessKeyID,
			SecretAccessKey: cfg.R2.SecretAccessKey,
			Insecure:        cfg.R2.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("connect object storage: %w", err)
		}
		index := NewKVIndex(cfg.R2.KVURI, cfg.R2.KVClientID, cfg.R2.KVSecret,
			WithKVCacheTTL(cfg.R2.IndexCacheTTLD))
		return NewObjectStorageBackend(bucket, index), nil

	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}
