package disagg

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Comm is the process-group communication service the partitioner drives.
// Implementations wrap the runtime's collective primitive (an MPI world
// communicator, or comm.World in-process). All processes of the world must
// call Split collectively.
type Comm interface {
	// Rank returns this process's global rank in [0, Size).
	Rank() int
	// Size returns the global process count.
	Size() int
	// Split partitions the world: processes supplying the same color land
	// in one subgroup, ordered by ascending key.
	Split(color, key int) (Subgroup, error)
}

// Subgroup is one communication-capable partition of the world, scoped to a
// single instance.
type Subgroup interface {
	// Rank returns this process's rank within the subgroup.
	Rank() int
	// Size returns the subgroup's member count.
	Size() int
	// Barrier blocks until every subgroup member has arrived.
	Barrier(ctx context.Context) error
}

// Placement is one process's position in the topology: which instance it
// belongs to, its rank within that instance, and whether it is the
// instance's leader (local rank 0).
type Placement struct {
	InstanceIndex int
	LocalRank     int
	IsLeader      bool
}

// ComputePlacement runs the deterministic offset walk (no coordination):
// instances own contiguous global-rank intervals in sequence order, with a
// co-located duplicate address contributing its range only once. Fails with
// TopologySizeMismatchError when worldSize differs from the topology's
// worker total.
//
// Every process computes an identical walk from the same instance sequence;
// only rank differs. That is the whole correctness argument, so the
// dedup-skip below must consume the same registry registerServers built.
func ComputePlacement(instances []InstanceSpec, worldSize, rank int) (Placement, error) {
	total, registry, err := registerServers(instances)
	if err != nil {
		return Placement{}, err
	}
	if worldSize != total {
		return Placement{}, &TopologySizeMismatchError{WorldSize: worldSize, WorkerTotal: total}
	}
	if rank < 0 || rank >= worldSize {
		return Placement{}, fmt.Errorf("rank %d out of range [0, %d)", rank, worldSize)
	}

	placement := Placement{}
	offset := 0
	for idx, inst := range instances {
		key := inst.addrKey()
		if _, ok := registry[key]; !ok {
			// Duplicate co-located position: its range was already walked
			// at the first occurrence.
			continue
		}
		delete(registry, key)
		if rank >= offset && rank < offset+inst.ProcessCount {
			placement.InstanceIndex = idx
			placement.LocalRank = rank - offset
			placement.IsLeader = rank == offset
		}
		offset += inst.ProcessCount
	}

	return placement, nil
}

// PartitionRanks computes this process's placement and materializes the
// per-instance subgroup: Split with color = instance index and key = local
// rank, verification that the subgroup agrees with the local walk, then a
// full barrier so the subgroup is established before any member uses it.
//
// A PartitionVerificationError means the cooperating processes did not all
// observe an identical topology; it is fatal and never tolerated.
func PartitionRanks(ctx context.Context, instances []InstanceSpec, comm Comm) (Placement, Subgroup, error) {
	placement, err := ComputePlacement(instances, comm.Size(), comm.Rank())
	if err != nil {
		return Placement{}, nil, err
	}

	sub, err := comm.Split(placement.InstanceIndex, placement.LocalRank)
	if err != nil {
		return Placement{}, nil, fmt.Errorf("splitting world communicator: %w", err)
	}
	if sub.Rank() != placement.LocalRank {
		return Placement{}, nil, &PartitionVerificationError{
			LocalRank:    placement.LocalRank,
			SubgroupRank: sub.Rank(),
		}
	}

	if err := sub.Barrier(ctx); err != nil {
		return Placement{}, nil, fmt.Errorf("subgroup barrier: %w", err)
	}

	logrus.Infof("global_rank: %d, instance_idx: %d, sub_rank: %d, is_leader: %v",
		comm.Rank(), placement.InstanceIndex, placement.LocalRank, placement.IsLeader)

	return placement, sub, nil
}
