package disagg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandInstances_AddressesResolvedInOrder(t *testing.T) {
	section := Params{
		"num_instances": 2,
		"urls":          []any{"h1:100", "h2:200"},
	}

	instances, err := ExpandInstances(RoleContext, section)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "h1", instances[0].Hostname)
	assert.Equal(t, 100, instances[0].Port)
	assert.Equal(t, "h2", instances[1].Hostname)
	assert.Equal(t, 200, instances[1].Port)
	for _, inst := range instances {
		assert.Equal(t, RoleContext, inst.Role)
		assert.Equal(t, 1, inst.ProcessCount)
	}
}

func TestExpandInstances_DefaultsToOneUnassignedInstance(t *testing.T) {
	instances, err := ExpandInstances(RoleGeneration, Params{})
	require.NoError(t, err)
	require.Len(t, instances, 1)

	assert.False(t, instances[0].Assigned())
	assert.Equal(t, "<unassigned>", instances[0].Addr())
	assert.Equal(t, 1, instances[0].ProcessCount)
}

func TestExpandInstances_ProcessCountIsParallelismProduct(t *testing.T) {
	section := Params{
		"tensor_parallel_size":   4,
		"pipeline_parallel_size": 2,
	}

	instances, err := ExpandInstances(RoleContext, section)
	require.NoError(t, err)
	assert.Equal(t, 8, instances[0].ProcessCount)
}

func TestExpandInstances_ExtraParamsCarryEverythingButStructuralKeys(t *testing.T) {
	section := Params{
		"num_instances":        2,
		"urls":                 []any{"h1:100", "h2:200"},
		"tensor_parallel_size": 2,
		"max_batch_size":       64,
		"custom_flag":          true,
	}

	instances, err := ExpandInstances(RoleContext, section)
	require.NoError(t, err)

	extra := instances[0].ExtraParams
	assert.NotContains(t, extra, "num_instances")
	assert.NotContains(t, extra, "urls")
	assert.Equal(t, 2, extra["tensor_parallel_size"])
	assert.Equal(t, 64, extra["max_batch_size"])
	assert.Equal(t, true, extra["custom_flag"])

	// All instances of the role share the same extra parameters.
	assert.True(t, instances[0].ExtraParams.Equal(instances[1].ExtraParams))
}

// One url for two declared instances is a count mismatch.
func TestExpandInstances_URLCountMismatch(t *testing.T) {
	section := Params{
		"num_instances": 2,
		"urls":          []any{"h1:100"},
	}

	_, err := ExpandInstances(RoleContext, section)
	var mismatch *InstanceCountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.URLs)
	assert.Equal(t, 2, mismatch.NumInstances)
}

func TestExpandInstances_MalformedURLs(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"missing delimiter", "h1"},
		{"non-numeric port", "h1:http"},
		{"empty host", ":100"},
		{"extra delimiter", "h1:100:200"},
		{"zero port", "h1:0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExpandInstances(RoleContext, Params{"urls": []any{tc.url}})
			var parseErr *AddressParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tc.url, parseErr.URL)
		})
	}
}

func TestExpandInstances_InvalidParallelismRejected(t *testing.T) {
	_, err := ExpandInstances(RoleContext, Params{"tensor_parallel_size": 0})
	assert.Error(t, err)

	_, err = ExpandInstances(RoleContext, Params{"pipeline_parallel_size": -1})
	assert.Error(t, err)
}

func TestExpandInstances_InvalidNumInstancesRejected(t *testing.T) {
	_, err := ExpandInstances(RoleContext, Params{"num_instances": 0})
	assert.Error(t, err)
}

func TestExpandInstances_SectionNotMutated(t *testing.T) {
	section := Params{"num_instances": 1, "urls": []any{"h1:100"}}
	_, err := ExpandInstances(RoleContext, section)
	require.NoError(t, err)

	assert.Contains(t, section, "num_instances")
	assert.Contains(t, section, "urls")
}
