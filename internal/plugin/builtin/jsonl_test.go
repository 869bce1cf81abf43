package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/elspeth/internal/plugin"
)

func TestJSONLSource_ReadsLineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":1,"v":"a"}
{"id":2,"v":"b"}
`), 0o644))

	src, err := NewJSONLSource(map[string]any{"path": path})
	require.NoError(t, err)

	var rows []map[string]any
	for {
		row, ok, err := src.Load(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.EqualValues(t, 2, rows[1]["id"])
}

func TestJSONLSink_WritesOneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	sink, err := NewJSONLSink(map[string]any{"path": path})
	require.NoError(t, err)

	require.NoError(t, sink.Write(nil, map[string]any{"id": 1, "v": "a"}))
	require.NoError(t, sink.Write(nil, map[string]any{"id": 2, "v": "b"}))
	require.NoError(t, sink.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1,\"v\":\"a\"}\n{\"id\":2,\"v\":\"b\"}\n", string(data))
}

func TestPassthrough_EmitsInputUnchanged(t *testing.T) {
	tr, err := NewPassthrough(nil)
	require.NoError(t, err)

	row := plugin.Row{"id": 1, "v": "a"}
	result, err := tr.Process(nil, row)
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	assert.Equal(t, row, *result.Success)
}
