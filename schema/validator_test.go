package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `json:"name" jsonschema:"required"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func TestReflectValidator(t *testing.T) {
	v, err := NewReflectedValidator(&sample{}, "Sample Doc")
	require.NoError(t, err)

	assert.NoError(t, v.ValidateJSON([]byte(`{"name":"a","count":2}`)))
	assert.NoError(t, v.ValidateJSON([]byte(`{"name":"a","extra":true}`)), "additional properties are allowed")

	err = v.ValidateJSON([]byte(`{"count":2}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")

	err = v.ValidateJSON([]byte(`{"name":"a","count":"two"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/count")

	assert.Error(t, v.ValidateJSON([]byte(`not json`)))
}

func TestValidateValue(t *testing.T) {
	v, err := NewReflectedValidator(&sample{}, "Sample Doc")
	require.NoError(t, err)
	assert.NoError(t, v.Validate(sample{Name: "x", Tags: []string{}}))
}

func TestNewValidatorRejectsBadSchema(t *testing.T) {
	_, err := NewValidator("bad.json", []byte(`{"type": 12}`))
	assert.Error(t, err)
}
