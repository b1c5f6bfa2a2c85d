package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadRequiresRegistry", func(t *testing.T) {
		Reset()
		assert.Error(t, NewServer("127.0.0.1:0", "").Load(ctx))
	})

	t.Run("Serves", func(t *testing.T) {
		InitRegistry()
		t.Cleanup(Reset)

		s := NewServer("127.0.0.1:0", "")
		require.NoError(t, s.Load(ctx))
		require.NoError(t, s.Start(ctx))
		assert.Error(t, s.Start(ctx), "second start fails")

		resp, err := http.Get("http://" + s.Addr() + "/metrics")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "go_goroutines")

		require.NoError(t, s.Stop(ctx))
		assert.NoError(t, s.Stop(ctx), "stop is idempotent")
		assert.NoError(t, s.Unload(ctx))
		assert.Equal(t, "127.0.0.1:0", s.Addr())
	})
}
