package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingRequiredFields_DynamicBypasses(t *testing.T) {
	consumer := &Schema{Name: "c", Fields: []Field{{Name: "a", Type: TypeInt, Required: true}}}

	assert.Empty(t, MissingRequiredFields(nil, consumer))
	assert.Empty(t, MissingRequiredFields(&Schema{Dynamic: true}, consumer))
	assert.Empty(t, MissingRequiredFields(consumer, nil))
}

func TestMissingRequiredFields_ExactMatch(t *testing.T) {
	producer := &Schema{Name: "p", Fields: []Field{{Name: "a", Type: TypeInt}}}
	consumer := &Schema{Name: "c", Fields: []Field{{Name: "a", Type: TypeInt, Required: true}}}

	require.Empty(t, MissingRequiredFields(producer, consumer))
}

func TestMissingRequiredFields_NumericWidening(t *testing.T) {
	producer := &Schema{Name: "p", Fields: []Field{{Name: "a", Type: TypeInt}}}
	consumer := &Schema{Name: "c", Fields: []Field{{Name: "a", Type: TypeFloat, Required: true}}}

	assert.Empty(t, MissingRequiredFields(producer, consumer), "int should widen to float")

	// float does not narrow to int
	producerF := &Schema{Name: "p", Fields: []Field{{Name: "a", Type: TypeFloat}}}
	consumerI := &Schema{Name: "c", Fields: []Field{{Name: "a", Type: TypeInt, Required: true}}}
	assert.Equal(t, []string{"a"}, MissingRequiredFields(producerF, consumerI))
}

func TestMissingRequiredFields_TransformOutputMissingSinkRequiredField(t *testing.T) {
	// transform declares output {a:int}; sink requires {a:int, b:str}.
	producer := &Schema{Name: "transform_out", Fields: []Field{{Name: "a", Type: TypeInt}}}
	consumer := &Schema{Name: "sink_in", Fields: []Field{
		{Name: "a", Type: TypeInt, Required: true},
		{Name: "b", Type: TypeString, Required: true},
	}}

	missing := MissingRequiredFields(producer, consumer)
	require.Equal(t, []string{"b"}, missing)
	assert.False(t, Compatible(producer, consumer))
}

func TestMissingRequiredFields_OptionalFieldsIgnored(t *testing.T) {
	producer := &Schema{Name: "p", Fields: []Field{{Name: "a", Type: TypeInt}}}
	consumer := &Schema{Name: "c", Fields: []Field{
		{Name: "a", Type: TypeInt, Required: true},
		{Name: "b", Type: TypeString, Required: false},
	}}

	assert.Empty(t, MissingRequiredFields(producer, consumer))
}

func TestMissingRequiredFields_SortedOutput(t *testing.T) {
	producer := &Schema{Name: "p"}
	consumer := &Schema{Name: "c", Fields: []Field{
		{Name: "z", Type: TypeInt, Required: true},
		{Name: "a", Type: TypeInt, Required: true},
		{Name: "m", Type: TypeInt, Required: true},
	}}

	assert.Equal(t, []string{"a", "m", "z"}, MissingRequiredFields(producer, consumer))
}
