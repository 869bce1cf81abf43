package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tachyon-beep/elspeth/internal/plugin"
)

func TestFieldCollisions_DetectsSilentOverwrite(t *testing.T) {
	in := plugin.Row{"a": 1, "b": "keep"}
	out := plugin.Row{"a": 2, "b": "keep"}

	// transform didn't declare "a" as added/modified, but changed it
	collided := fieldCollisions(in, out, &plugin.SuccessReason{})
	assert.Equal(t, []string{"a"}, collided)
}

func TestFieldCollisions_DeclaredModificationAllowed(t *testing.T) {
	in := plugin.Row{"a": 1}
	out := plugin.Row{"a": 2}

	collided := fieldCollisions(in, out, &plugin.SuccessReason{FieldsModified: []string{"a"}})
	assert.Empty(t, collided)
}

func TestFieldCollisions_UnchangedFieldsIgnored(t *testing.T) {
	in := plugin.Row{"a": 1, "b": 2}
	out := plugin.Row{"a": 1, "b": 2, "c": 3}

	collided := fieldCollisions(in, out, &plugin.SuccessReason{FieldsAdded: []string{"c"}})
	assert.Empty(t, collided)
}

func TestHashRow_Deterministic(t *testing.T) {
	// for deterministic plugins, input_hash -> output_hash is a
	// function; hashing the same row twice must agree.
	row := plugin.Row{"id": 1, "v": "a"}
	assert.Equal(t, hashRow(row), hashRow(row))
}

func TestInferType(t *testing.T) {
	s := inputSchemaFor(plugin.Row{"n": 1, "f": 1.5, "s": "x", "b": true})
	for _, f := range s.Fields {
		switch f.Name {
		case "n":
			assert.Equal(t, "int", string(f.Type))
		case "f":
			assert.Equal(t, "float", string(f.Type))
		case "s":
			assert.Equal(t, "string", string(f.Type))
		case "b":
			assert.Equal(t, "bool", string(f.Type))
		}
	}
}
