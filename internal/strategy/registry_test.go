package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strategiesYAML = `strategies:
  ema-trend:
    kind: ema_cross
    timeframe: 5m
    params:
      fast: 5
      slow: 20
    schema:
      type: object
      properties:
        fast:
          type: integer
          minimum: 2
        slow:
          type: integer
      required: [fast, slow]
  rsi-dip:
    kind: rsi_reversal
    timeframe: 15m
    params:
      period: 7
  broken:
    timeframe: 5m
`

func writeStrategies(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadsDefinitions(t *testing.T) {
	r, err := NewRegistry(writeStrategies(t, strategiesYAML))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Len(t, snap.Definitions, 2) // broken 缺 kind，跳过

	def, ok := r.Definition("ema-trend")
	require.True(t, ok)
	assert.Equal(t, "ema_cross", def.Kind)
	assert.Equal(t, "5m", def.Timeframe)

	_, ok = r.Definition("broken")
	assert.False(t, ok)
}

func TestRegistryBuildsStrategies(t *testing.T) {
	r, err := NewRegistry(writeStrategies(t, strategiesYAML))
	require.NoError(t, err)

	s, err := r.Build("ema-trend")
	require.NoError(t, err)
	assert.Equal(t, "ema_cross", s.Name())
	assert.Equal(t, []string{"5m"}, s.Timeframes())

	s, err = r.Build("rsi-dip")
	require.NoError(t, err)
	assert.Equal(t, "rsi_reversal", s.Name())

	_, err = r.Build("missing")
	assert.Error(t, err)
}

func TestRegistryRejectsParamsFailingSchema(t *testing.T) {
	bad := `strategies:
  ema-trend:
    kind: ema_cross
    timeframe: 5m
    params:
      fast: 1
      slow: 20
    schema:
      type: object
      properties:
        fast:
          type: integer
          minimum: 2
      required: [fast]
`
	r, err := NewRegistry(writeStrategies(t, bad))
	require.NoError(t, err)

	_, err = r.Build("ema-trend")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "params invalid")
}

func TestRegistryUnknownKind(t *testing.T) {
	cfg := `strategies:
  mystery:
    kind: martingale
    timeframe: 5m
`
	r, err := NewRegistry(writeStrategies(t, cfg))
	require.NoError(t, err)

	_, err = r.Build("mystery")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy kind")
}

func TestRegistryRequiresPath(t *testing.T) {
	_, err := NewRegistry("")
	assert.Error(t, err)
	_, err = NewRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
