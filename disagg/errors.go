package disagg

import "fmt"

// All errors in this file are non-retriable configuration or topology
// faults. Callers are expected to abort startup; there is no degraded mode
// in which a malformed topology runs with some processes excluded.

// ConfigConflictError reports a parameter present both at the top level and
// in a role section with differing values.
type ConfigConflictError struct {
	Key          string
	Section      string // "context_servers" or "generation_servers"
	TopValue     any
	SectionValue any
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("parameter %q is specified both at the top level (%v) and in the %s section (%v), but with different values",
		e.Key, e.TopValue, e.Section, e.SectionValue)
}

// InstanceCountMismatchError reports a urls list whose length differs from
// the declared instance count.
type InstanceCountMismatchError struct {
	Role         ServerRole
	URLs         int
	NumInstances int
}

func (e *InstanceCountMismatchError) Error() string {
	return fmt.Sprintf("%s servers: number of urls (%d) should be equal to the number of instances (%d)",
		e.Role, e.URLs, e.NumInstances)
}

// AddressParseError reports a url entry that is not host:port with a
// numeric port.
type AddressParseError struct {
	URL    string
	Reason string
}

func (e *AddressParseError) Error() string {
	return fmt.Sprintf("malformed server url %q: %s", e.URL, e.Reason)
}

// DuplicateServerError reports the same address configured twice under one
// role.
type DuplicateServerError struct {
	Role     ServerRole
	Hostname string
	Port     int
}

func (e *DuplicateServerError) Error() string {
	return fmt.Sprintf("duplicated %s server config for %s:%d", e.Role, e.Hostname, e.Port)
}

// MixedRoleArgsConflictError reports an address shared across roles whose
// two instances carry differing extra parameters. Co-located serving is
// allowed only when both roles are configured identically.
type MixedRoleArgsConflictError struct {
	Hostname string
	Port     int
	First    Params
	Second   Params
}

func (e *MixedRoleArgsConflictError) Error() string {
	return fmt.Sprintf("server config for %s:%d has different args across roles: %v vs %v",
		e.Hostname, e.Port, e.First, e.Second)
}

// TopologySizeMismatchError reports a cluster started with a process count
// that does not match the topology's worker total.
type TopologySizeMismatchError struct {
	WorldSize   int
	WorkerTotal int
}

func (e *TopologySizeMismatchError) Error() string {
	return fmt.Sprintf("global process count (%d) should be equal to the number of distinct workers (%d)",
		e.WorldSize, e.WorkerTotal)
}

// PartitionVerificationError reports that the group communication service
// placed this process at a different rank than the local walk computed —
// the participating processes did not observe an identical topology.
type PartitionVerificationError struct {
	LocalRank    int
	SubgroupRank int
}

func (e *PartitionVerificationError) Error() string {
	return fmt.Sprintf("subgroup rank %d does not match locally computed local rank %d; configuration likely diverged across processes",
		e.SubgroupRank, e.LocalRank)
}
