package disagg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level keys consumed by ComposeTopology. Everything else at the top
// level is an inheritable parameter folded into both role sections.
const (
	keyHostname          = "hostname"
	keyPort              = "port"
	keyMaxRetries        = "max_retries"
	keyContextServers    = "context_servers"
	keyGenerationServers = "generation_servers"
	keyConditionalDisagg = "conditional_disagg_config"
)

// LoadClusterConfig reads a YAML cluster configuration snapshot and composes
// the validated topology. Every process of the cluster must read a
// byte-identical snapshot; see ConfigFingerprint for a way to enforce that.
func LoadClusterConfig(path string) (*ClusterTopology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cluster config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing cluster config: %w", err)
	}
	return ComposeTopology(raw)
}

// ComposeTopology builds a ClusterTopology from a decoded configuration
// snapshot. The composition is pure and deterministic: given equal
// snapshots it yields structurally equal topologies on every process, which
// the rank partitioner depends on.
func ComposeTopology(raw map[string]any) (*ClusterTopology, error) {
	params := Params(raw).Clone()
	if params == nil {
		params = Params{}
	}

	hostname, err := params.stringValue(keyHostname, "localhost")
	if err != nil {
		return nil, err
	}
	port, err := params.intValue(keyPort, 8000)
	if err != nil {
		return nil, err
	}
	maxRetries, err := params.intValue(keyMaxRetries, 3)
	if err != nil {
		return nil, err
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0, got %d", maxRetries)
	}
	ctxSection, err := params.mapValue(keyContextServers)
	if err != nil {
		return nil, err
	}
	genSection, err := params.mapValue(keyGenerationServers)
	if err != nil {
		return nil, err
	}
	condSection, err := params.mapValue(keyConditionalDisagg)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{keyHostname, keyPort, keyMaxRetries, keyContextServers, keyGenerationServers, keyConditionalDisagg} {
		delete(params, key)
	}

	ctxSection, genSection, err = NormalizeSections(params, ctxSection, genSection)
	if err != nil {
		return nil, err
	}

	ctxRouter, ctxSection, err := ExtractRouter(ctxSection)
	if err != nil {
		return nil, fmt.Errorf("context servers: %w", err)
	}
	genRouter, genSection, err := ExtractRouter(genSection)
	if err != nil {
		return nil, fmt.Errorf("generation servers: %w", err)
	}
	ctxRouter.Role = RoleContext
	genRouter.Role = RoleGeneration

	ctxInstances, err := ExpandInstances(RoleContext, ctxSection)
	if err != nil {
		return nil, err
	}
	genInstances, err := ExpandInstances(RoleGeneration, genSection)
	if err != nil {
		return nil, err
	}

	var cond *ConditionalDisaggSpec
	if condSection != nil {
		threshold, err := condSection.intValue("max_local_prefill_length", 0)
		if err != nil {
			return nil, fmt.Errorf("conditional_disagg_config: %w", err)
		}
		if threshold < 0 {
			return nil, fmt.Errorf("conditional_disagg_config: max_local_prefill_length must be >= 0, got %d", threshold)
		}
		cond = &ConditionalDisaggSpec{MaxLocalPrefillLength: threshold}
	}

	topology := &ClusterTopology{
		Instances:         append(ctxInstances, genInstances...),
		Hostname:          hostname,
		Port:              port,
		ContextRouter:     ctxRouter,
		GenerationRouter:  genRouter,
		ConditionalDisagg: cond,
		MaxRetries:        maxRetries,
	}

	// Surface address reuse faults at composition time rather than first
	// partition.
	if _, _, err := registerServers(topology.Instances); err != nil {
		return nil, err
	}

	return topology, nil
}

// ConfigFingerprint returns the sha256 hex digest of a raw configuration
// snapshot. Processes can publish and compare fingerprints (see
// metadata.EnsureFingerprint) to catch configuration drift that the
// partition-time rank check cannot: divergence in fields that do not change
// the partition shape.
func ConfigFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
