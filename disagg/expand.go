package disagg

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandInstances expands one role's self-contained section into exactly
// num_instances ordered InstanceSpec values.
//
// When a urls list is present its length must equal num_instances and each
// entry must be "host:port" with a numeric port. Without urls every instance
// is produced with an unassigned address, to be resolved by an external
// allocation step later.
//
// Every instance of the role shares the same ProcessCount
// (tensor_parallel_size x pipeline_parallel_size) and the same ExtraParams:
// the section minus num_instances and urls. The router sub-mapping is
// expected to have been extracted already (ExtractRouter).
func ExpandInstances(role ServerRole, section Params) ([]InstanceSpec, error) {
	extra := section.Clone()
	if extra == nil {
		extra = Params{}
	}

	numInstances, err := extra.intValue("num_instances", 1)
	if err != nil {
		return nil, fmt.Errorf("%s servers: %w", role, err)
	}
	if numInstances < 1 {
		return nil, fmt.Errorf("%s servers: num_instances must be >= 1, got %d", role, numInstances)
	}
	delete(extra, "num_instances")

	urls, err := extra.stringList("urls")
	if err != nil {
		return nil, fmt.Errorf("%s servers: %w", role, err)
	}
	delete(extra, "urls")

	hostnames := make([]string, numInstances)
	ports := make([]int, numInstances)
	if urls != nil {
		if len(urls) != numInstances {
			return nil, &InstanceCountMismatchError{Role: role, URLs: len(urls), NumInstances: numInstances}
		}
		for i, url := range urls {
			host, port, err := splitAddr(url)
			if err != nil {
				return nil, err
			}
			hostnames[i] = host
			ports[i] = port
		}
	}

	processCount, err := roleProcessCount(role, extra)
	if err != nil {
		return nil, err
	}

	instances := make([]InstanceSpec, numInstances)
	for i := range instances {
		instances[i] = InstanceSpec{
			Role:         role,
			Hostname:     hostnames[i],
			Port:         ports[i],
			ProcessCount: processCount,
			ExtraParams:  extra,
		}
	}
	return instances, nil
}

// roleProcessCount computes the per-instance worker process count from the
// parallelism factors, both defaulting to 1. Uniform across the role: the
// configuration model has no per-instance overrides.
func roleProcessCount(role ServerRole, extra Params) (int, error) {
	tp, err := extra.intValue("tensor_parallel_size", 1)
	if err != nil {
		return 0, fmt.Errorf("%s servers: %w", role, err)
	}
	pp, err := extra.intValue("pipeline_parallel_size", 1)
	if err != nil {
		return 0, fmt.Errorf("%s servers: %w", role, err)
	}
	if tp < 1 {
		return 0, fmt.Errorf("%s servers: tensor_parallel_size must be >= 1, got %d", role, tp)
	}
	if pp < 1 {
		return 0, fmt.Errorf("%s servers: pipeline_parallel_size must be >= 1, got %d", role, pp)
	}
	return tp * pp, nil
}

// splitAddr parses "host:port". The accepted grammar is deliberately
// narrow: one colon, non-empty host, numeric port.
func splitAddr(url string) (string, int, error) {
	host, portStr, found := strings.Cut(url, ":")
	if !found {
		return "", 0, &AddressParseError{URL: url, Reason: "missing ':' delimiter"}
	}
	if host == "" {
		return "", 0, &AddressParseError{URL: url, Reason: "empty host"}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, &AddressParseError{URL: url, Reason: fmt.Sprintf("port %q is not numeric", portStr)}
	}
	if port <= 0 {
		return "", 0, &AddressParseError{URL: url, Reason: fmt.Sprintf("port %d is not positive", port)}
	}
	return host, port, nil
}
