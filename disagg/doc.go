// Package disagg composes and partitions the topology of a disaggregated
// inference cluster: context-processing instances and generation instances,
// each backed by a contiguous block of worker processes.
//
// # Reading Guide
//
// The composition pipeline runs leaf-first:
//   - normalize.go: fold top-level parameters into the role sections
//   - router.go: extract the per-role router configuration
//   - expand.go: expand each role section into ordered InstanceSpec values
//   - topology.go: validate address reuse and compute the worker total
//   - partition.go: map a global process rank onto the instance sequence
//     and materialize the per-instance subgroup
//
// config.go ties the pipeline together behind LoadClusterConfig /
// ComposeTopology.
//
// # Determinism
//
// Everything up to the subgroup split is pure local computation. All
// cooperating processes run the identical pipeline over a byte-identical
// configuration snapshot and must reach the identical topology view; the
// only coordination points are the collective Split and the subgroup
// barrier. The split-time rank verification catches divergence that changes
// the partition shape, and ConfigFingerprint (with
// metadata.EnsureFingerprint) catches the rest.
package disagg
