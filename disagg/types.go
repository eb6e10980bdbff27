package disagg

import "fmt"

// ServerRole identifies which half of the disaggregated pipeline an
// instance serves.
type ServerRole int

const (
	RoleContext ServerRole = iota
	RoleGeneration
)

// String returns the wire/log name for the role ("ctx" or "gen").
func (r ServerRole) String() string {
	switch r {
	case RoleContext:
		return "ctx"
	case RoleGeneration:
		return "gen"
	default:
		return fmt.Sprintf("ServerRole(%d)", int(r))
	}
}

// Router kinds. Unrecognized kinds are carried through unchanged so newer
// routers can be configured against an older binary.
const (
	RouterRoundRobin = "round_robin"
)

// InstanceSpec describes one addressable server instance. Hostname and Port
// are both zero until assigned, either from the configured url list or by a
// later external allocation step. ProcessCount is the number of cooperating
// worker processes backing the instance (tensor parallelism x pipeline
// parallelism, >= 1).
type InstanceSpec struct {
	Role         ServerRole
	Hostname     string
	Port         int
	ProcessCount int
	ExtraParams  Params // role section minus num_instances/urls/router, opaque
}

// Assigned reports whether the instance has a resolved network address.
func (s *InstanceSpec) Assigned() bool {
	return s.Hostname != "" || s.Port != 0
}

// Addr returns "host:port" for logging, or "<unassigned>".
func (s *InstanceSpec) Addr() string {
	if !s.Assigned() {
		return "<unassigned>"
	}
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

// RouterSpec is the per-role request-routing configuration. Params may carry
// batching hints (max_batch_size, max_num_tokens) copied from the role
// section. Role is assigned after extraction, never user-supplied.
type RouterSpec struct {
	Kind   string
	Params Params
	Role   ServerRole
}

// ConditionalDisaggSpec carries the conditional-disaggregation threshold.
// Opaque at this layer: the serving layer decides what to do with it.
type ConditionalDisaggSpec struct {
	MaxLocalPrefillLength int
}

// ClusterTopology is the composed, validated topology handed to the serving
// process. Instances holds context instances first, then generation
// instances, in configuration order; the order is load-bearing — the rank
// partitioner walks it to assign process ranges.
//
// A ClusterTopology is built once from a single configuration snapshot and
// never mutated afterwards.
type ClusterTopology struct {
	Instances         []InstanceSpec
	Hostname          string
	Port              int
	ContextRouter     RouterSpec
	GenerationRouter  RouterSpec
	ConditionalDisagg *ConditionalDisaggSpec
	MaxRetries        int
}

// ContextInstances returns the context-role prefix of the instance sequence.
func (t *ClusterTopology) ContextInstances() []InstanceSpec {
	return t.instancesByRole(RoleContext)
}

// GenerationInstances returns the generation-role instances.
func (t *ClusterTopology) GenerationInstances() []InstanceSpec {
	return t.instancesByRole(RoleGeneration)
}

func (t *ClusterTopology) instancesByRole(role ServerRole) []InstanceSpec {
	var out []InstanceSpec
	for _, inst := range t.Instances {
		if inst.Role == role {
			out = append(out, inst)
		}
	}
	return out
}

// TotalWorkers returns the number of worker processes the topology requires,
// counting a co-located context/generation address once. Fails on duplicate
// or conflicting address reuse.
func (t *ClusterTopology) TotalWorkers() (int, error) {
	total, _, err := registerServers(t.Instances)
	return total, err
}

// Validate checks the invariants the composition pipeline guarantees, for
// topologies assembled by hand (tests, embedding callers).
func (t *ClusterTopology) Validate() error {
	for i, inst := range t.Instances {
		if inst.ProcessCount < 1 {
			return fmt.Errorf("instance %d (%s %s): ProcessCount must be >= 1, got %d",
				i, inst.Role, inst.Addr(), inst.ProcessCount)
		}
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", t.MaxRetries)
	}
	if t.ConditionalDisagg != nil && t.ConditionalDisagg.MaxLocalPrefillLength < 0 {
		return fmt.Errorf("max_local_prefill_length must be >= 0, got %d",
			t.ConditionalDisagg.MaxLocalPrefillLength)
	}
	_, _, err := registerServers(t.Instances)
	return err
}
