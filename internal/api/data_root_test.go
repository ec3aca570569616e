package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gisengine/components"
	"gisengine/internal/engine"
	"gisengine/pkg/component"
	"gisengine/pkg/logger"
)

const sampleLayer = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`

func TestExecuteConfinesFilePathsToDataRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.geojson"), []byte(sampleLayer), 0o644))
	victim := filepath.Join(t.TempDir(), "victim.geojson")
	require.NoError(t, os.WriteFile(victim, []byte(`{"secret":true}`), 0o644))

	reg := component.NewRegistry()
	require.NoError(t, components.RegisterAll(reg))
	eng := engine.New(reg, engine.WithDataRoot(root))
	ts := httptest.NewServer(NewServer(":0", eng, reg, WithLogger(logger.Discard())).Handler())
	t.Cleanup(ts.Close)

	execute := func(nodes map[string]any, conns []map[string]string) engine.Result {
		body, err := json.Marshal(map[string]any{"nodes": nodes, "connections": conns})
		require.NoError(t, err)
		var result engine.Result
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/workflows/execute", string(body), &result)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return result
	}

	t.Run("read outside root", func(t *testing.T) {
		res := execute(map[string]any{
			"src": map[string]any{"component_id": "core.file_reader", "parameters": map[string]any{"file_path": victim}},
		}, nil)
		assert.False(t, res.Success)
		assert.Equal(t, engine.CodeInputValidationFailed, res.ErrorCode)
		assert.Equal(t, "src", res.FailedNode)
	})

	t.Run("overwrite outside root", func(t *testing.T) {
		res := execute(map[string]any{
			"src": map[string]any{"component_id": "core.file_reader", "parameters": map[string]any{"file_path": "in.geojson"}},
			"dst": map[string]any{"component_id": "core.file_writer", "parameters": map[string]any{"file_path": victim, "overwrite": true}},
		}, []map[string]string{{"from_node": "src", "from_output": "layer", "to_node": "dst", "to_input": "layer"}})
		assert.False(t, res.Success)
		assert.Equal(t, engine.CodeInputValidationFailed, res.ErrorCode)
		assert.Equal(t, "dst", res.FailedNode)

		data, err := os.ReadFile(victim)
		require.NoError(t, err)
		assert.Equal(t, `{"secret":true}`, string(data))
	})

	t.Run("relative path inside root", func(t *testing.T) {
		res := execute(map[string]any{
			"src": map[string]any{"component_id": "core.file_reader", "parameters": map[string]any{"file_path": "in.geojson"}},
			"dst": map[string]any{"component_id": "core.file_writer", "parameters": map[string]any{"file_path": "out/copy.geojson"}},
		}, []map[string]string{{"from_node": "src", "from_output": "layer", "to_node": "dst", "to_input": "layer"}})
		require.True(t, res.Success, res.Error)
		assert.FileExists(t, filepath.Join(root, "out", "copy.geojson"))
	})
}
