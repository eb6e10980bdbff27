package disagg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSections_InheritsTopLevelIntoBothSections(t *testing.T) {
	top := Params{"max_batch_size": 64, "backend": "trtllm"}
	ctx := Params{"num_instances": 2}
	gen := Params{}

	ctxOut, genOut, err := NormalizeSections(top, ctx, gen)
	require.NoError(t, err)

	assert.Equal(t, 64, ctxOut["max_batch_size"])
	assert.Equal(t, "trtllm", ctxOut["backend"])
	assert.Equal(t, 2, ctxOut["num_instances"])
	assert.Equal(t, 64, genOut["max_batch_size"])
	assert.Equal(t, "trtllm", genOut["backend"])
}

func TestNormalizeSections_EqualDuplicateAccepted(t *testing.T) {
	top := Params{"tensor_parallel_size": 2}
	ctx := Params{"tensor_parallel_size": 2}

	ctxOut, _, err := NormalizeSections(top, ctx, Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, ctxOut["tensor_parallel_size"])
}

// A key present at top level and in a section with different values is a
// conflict, named after the key.
func TestNormalizeSections_ConflictingDuplicateRejected(t *testing.T) {
	top := Params{"tensor_parallel_size": 2}
	ctx := Params{"tensor_parallel_size": 4}

	_, _, err := NormalizeSections(top, ctx, Params{})
	var conflict *ConfigConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "tensor_parallel_size", conflict.Key)
	assert.Equal(t, 2, conflict.TopValue)
	assert.Equal(t, 4, conflict.SectionValue)
}

// Conflict detection must not depend on which of (top level, section) holds
// which value.
func TestNormalizeSections_ConflictDetectionSymmetric(t *testing.T) {
	_, _, errA := NormalizeSections(Params{"k": 1}, Params{"k": 2}, Params{})
	_, _, errB := NormalizeSections(Params{"k": 2}, Params{"k": 1}, Params{})

	var conflict *ConfigConflictError
	assert.ErrorAs(t, errA, &conflict)
	assert.ErrorAs(t, errB, &conflict)
}

func TestNormalizeSections_ConflictInGenerationSection(t *testing.T) {
	top := Params{"max_num_tokens": 8192}
	gen := Params{"max_num_tokens": 4096}

	_, _, err := NormalizeSections(top, Params{}, gen)
	var conflict *ConfigConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "generation_servers", conflict.Section)
}

func TestNormalizeSections_NestedValuesComparedStructurally(t *testing.T) {
	top := Params{"opts": map[string]any{"a": 1, "b": []any{"x"}}}
	ctx := Params{"opts": map[string]any{"b": []any{"x"}, "a": 1}}

	_, _, err := NormalizeSections(top, ctx, Params{})
	assert.NoError(t, err)
}

// The fold is pure: the caller's maps are never touched.
func TestNormalizeSections_InputsNotMutated(t *testing.T) {
	top := Params{"inherited": true}
	ctx := Params{"own": 1}
	gen := Params{}

	_, _, err := NormalizeSections(top, ctx, gen)
	require.NoError(t, err)

	assert.Equal(t, Params{"inherited": true}, top)
	assert.Equal(t, Params{"own": 1}, ctx)
	assert.Empty(t, gen)
}

func TestNormalizeSections_NilSectionsTreatedAsEmpty(t *testing.T) {
	ctxOut, genOut, err := NormalizeSections(Params{"k": "v"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "v", ctxOut["k"])
	assert.Equal(t, "v", genOut["k"])
}
