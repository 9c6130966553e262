package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	a := New()
	b := New()

	a.GovernorCalls.WithLabelValues("github", "search", "success").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.GovernorCalls.WithLabelValues("github", "search", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GovernorCalls.WithLabelValues("github", "search", "success")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.CircuitState.WithLabelValues("gitlab").Set(2)
	m.CacheEvictions.Add(3)

	path := filepath.Join(t.TempDir(), "reposcout.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `reposcout_circuit_state{platform="gitlab"} 2`), out)
	assert.Contains(t, out, "reposcout_cache_evictions_total 3")
}
