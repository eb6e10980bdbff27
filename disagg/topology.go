package disagg

// addrKey identifies one network endpoint. The zero key stands for an
// unassigned address, which therefore registers like any other endpoint:
// two address-less instances of one role collide, just as two instances
// configured with the same url do.
type addrKey struct {
	hostname string
	port     int
}

func (s *InstanceSpec) addrKey() addrKey {
	return addrKey{hostname: s.Hostname, port: s.Port}
}

// registerServers scans the ordered instance sequence once, keyed by
// address, validating reuse and accumulating the worker process total.
//
// Same-role address reuse is a configuration error. Cross-role reuse models
// a co-located context+generation endpoint and is permitted only when both
// instances carry structurally equal extra parameters; the shared endpoint
// contributes its process count once.
//
// The returned map holds the first-seen instance per address. It exists to
// compute the total and to drive the dedup-skip in the rank walk; partition
// order always follows the original instance sequence.
func registerServers(instances []InstanceSpec) (int, map[addrKey]InstanceSpec, error) {
	total := 0
	registry := make(map[addrKey]InstanceSpec, len(instances))

	for _, inst := range instances {
		key := inst.addrKey()
		prev, seen := registry[key]
		if !seen {
			registry[key] = inst
			total += inst.ProcessCount
			continue
		}
		if prev.Role == inst.Role {
			return 0, nil, &DuplicateServerError{Role: inst.Role, Hostname: inst.Hostname, Port: inst.Port}
		}
		if !prev.ExtraParams.Equal(inst.ExtraParams) {
			return 0, nil, &MixedRoleArgsConflictError{
				Hostname: inst.Hostname,
				Port:     inst.Port,
				First:    prev.ExtraParams,
				Second:   inst.ExtraParams,
			}
		}
	}

	return total, registry, nil
}
