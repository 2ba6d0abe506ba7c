package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/solverd/pkg/config"
)

func TestNew(t *testing.T) {
	t.Run("repository", func(t *testing.T) {
		backend, err := New(context.Background(), config.StoreConfig{
			Backend:    config.BackendGithub,
			Repository: config.RepositoryConfig{URL: "https://example.com/dl", TimeoutD: time.Minute},
		})
		require.NoError(t, err)
		assert.Equal(t, "github", backend.Name())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(context.Background(), config.StoreConfig{Backend: "ftp"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ftp")
	})
}
