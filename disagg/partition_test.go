package disagg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoTierInstances builds two 2-process context instances followed by one
// 4-process generation instance (8 workers total).
func twoTierInstances() []InstanceSpec {
	return []InstanceSpec{
		ctxInstance("h1", 100, 2, Params{"tensor_parallel_size": 2}),
		ctxInstance("h2", 200, 2, Params{"tensor_parallel_size": 2}),
		genInstance("h3", 300, 4, Params{"tensor_parallel_size": 4}),
	}
}

func TestComputePlacement_InstanceRangesAndLeaders(t *testing.T) {
	instances := twoTierInstances()

	cases := []struct {
		rank          int
		instanceIndex int
		localRank     int
		isLeader      bool
	}{
		{0, 0, 0, true},
		{1, 0, 1, false},
		{2, 1, 0, true},
		{3, 1, 1, false},
		{4, 2, 0, true},
		{5, 2, 1, false},
		{7, 2, 3, false},
	}
	for _, tc := range cases {
		placement, err := ComputePlacement(instances, 8, tc.rank)
		require.NoError(t, err)
		assert.Equal(t, tc.instanceIndex, placement.InstanceIndex, "rank %d instance", tc.rank)
		assert.Equal(t, tc.localRank, placement.LocalRank, "rank %d local rank", tc.rank)
		assert.Equal(t, tc.isLeader, placement.IsLeader, "rank %d leader", tc.rank)
	}
}

func TestComputePlacement_WorldSizeMismatchFatal(t *testing.T) {
	_, err := ComputePlacement(twoTierInstances(), 7, 0)
	var mismatch *TopologySizeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 7, mismatch.WorldSize)
	assert.Equal(t, 8, mismatch.WorkerTotal)
}

func TestComputePlacement_RankOutOfRange(t *testing.T) {
	_, err := ComputePlacement(twoTierInstances(), 8, 8)
	assert.Error(t, err)
	_, err = ComputePlacement(twoTierInstances(), 8, -1)
	assert.Error(t, err)
}

// Partition ranges are contiguous, non-overlapping, and cover [0, total):
// every rank lands in exactly one instance, and exactly one rank per
// instance is the leader.
func TestComputePlacement_RangesPartitionTheWorld(t *testing.T) {
	instances := []InstanceSpec{
		ctxInstance("h1", 100, 3, nil),
		ctxInstance("h2", 200, 1, nil),
		genInstance("h3", 300, 5, nil),
		genInstance("h4", 400, 2, nil),
	}
	const total = 11

	ranksPerInstance := make(map[int][]int)
	leaders := make(map[int]int)
	for rank := 0; rank < total; rank++ {
		placement, err := ComputePlacement(instances, total, rank)
		require.NoError(t, err)

		ranksPerInstance[placement.InstanceIndex] = append(ranksPerInstance[placement.InstanceIndex], rank)
		if placement.IsLeader {
			leaders[placement.InstanceIndex]++
			assert.Equal(t, 0, placement.LocalRank, "leader must be local rank 0")
		}
	}

	require.Len(t, ranksPerInstance, len(instances))
	for idx, inst := range instances {
		ranks := ranksPerInstance[idx]
		assert.Len(t, ranks, inst.ProcessCount, "instance %d owns its process count", idx)
		assert.Equal(t, 1, leaders[idx], "instance %d has exactly one leader", idx)
		for i := 1; i < len(ranks); i++ {
			assert.Equal(t, ranks[i-1]+1, ranks[i], "instance %d ranks contiguous", idx)
		}
	}
}

// A co-located context/generation address contributes its process range
// once: the duplicate position is skipped in the offset walk and never owns
// ranks.
func TestComputePlacement_CoLocatedAddressWalkedOnce(t *testing.T) {
	extra := Params{"tensor_parallel_size": 2}
	instances := []InstanceSpec{
		ctxInstance("h1", 100, 2, extra),
		genInstance("h1", 100, 2, extra),
		genInstance("h2", 200, 2, extra),
	}

	for rank, want := range map[int]Placement{
		0: {InstanceIndex: 0, LocalRank: 0, IsLeader: true},
		1: {InstanceIndex: 0, LocalRank: 1},
		2: {InstanceIndex: 2, LocalRank: 0, IsLeader: true},
		3: {InstanceIndex: 2, LocalRank: 1},
	} {
		placement, err := ComputePlacement(instances, 4, rank)
		require.NoError(t, err)
		assert.Equal(t, want, placement, "rank %d", rank)
	}
}

func TestComputePlacement_PropagatesRegistryFaults(t *testing.T) {
	instances := []InstanceSpec{
		ctxInstance("h1", 100, 1, nil),
		ctxInstance("h1", 100, 1, nil),
	}
	_, err := ComputePlacement(instances, 2, 0)
	var dup *DuplicateServerError
	assert.ErrorAs(t, err, &dup)
}

// disagreeingComm is a Comm whose subgroup reports a fixed rank regardless
// of the requested key, standing in for a runtime where the cooperating
// processes did not all compose the same topology.
type disagreeingComm struct {
	rank         int
	size         int
	subgroupRank int
}

func (c *disagreeingComm) Rank() int { return c.rank }
func (c *disagreeingComm) Size() int { return c.size }

func (c *disagreeingComm) Split(color, key int) (Subgroup, error) {
	return &fixedRankSubgroup{rank: c.subgroupRank}, nil
}

type fixedRankSubgroup struct{ rank int }

func (g *fixedRankSubgroup) Rank() int { return g.rank }
func (g *fixedRankSubgroup) Size() int { return 1 }

func (g *fixedRankSubgroup) Barrier(ctx context.Context) error { return nil }

// A subgroup rank that disagrees with the local walk means the processes
// did not observe an identical topology; the partition must fail, not
// silently accept the runtime's placement.
func TestPartitionRanks_SubgroupRankDisagreementFatal(t *testing.T) {
	instances := []InstanceSpec{
		ctxInstance("h1", 100, 2, nil),
	}
	comm := &disagreeingComm{rank: 1, size: 2, subgroupRank: 0}

	_, _, err := PartitionRanks(context.Background(), instances, comm)
	var verification *PartitionVerificationError
	require.ErrorAs(t, err, &verification)
	assert.Equal(t, 1, verification.LocalRank)
	assert.Equal(t, 0, verification.SubgroupRank)
}

// The walk is deterministic: repeated runs over the same sequence agree.
func TestComputePlacement_Deterministic(t *testing.T) {
	instances := twoTierInstances()
	for rank := 0; rank < 8; rank++ {
		first, err := ComputePlacement(instances, 8, rank)
		require.NoError(t, err)
		second, err := ComputePlacement(instances, 8, rank)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}
