package disagg

import "fmt"

// batching keys mirrored into router params so routers can size their
// queues without reaching back into the role section.
var routerMirroredKeys = []string{"max_batch_size", "max_num_tokens"}

// ExtractRouter pops the router sub-mapping out of a role section and
// interprets it: "type" selects the router kind (default round_robin), the
// remaining entries become router params. max_batch_size and max_num_tokens
// are additionally copied from the role section into the router params,
// non-destructively — they stay in the section for the instance expander.
//
// Returns the RouterSpec (Role unset; the caller assigns it) and a fresh
// copy of the section without the router key.
func ExtractRouter(section Params) (RouterSpec, Params, error) {
	rest := section.Clone()
	if rest == nil {
		rest = Params{}
	}

	router, err := rest.mapValue("router")
	if err != nil {
		return RouterSpec{}, nil, err
	}
	delete(rest, "router")

	args := router.Clone()
	if args == nil {
		args = Params{}
	}
	kind, err := args.stringValue("type", RouterRoundRobin)
	if err != nil {
		return RouterSpec{}, nil, fmt.Errorf("router: %w", err)
	}
	delete(args, "type")

	for _, key := range routerMirroredKeys {
		if v, ok := rest[key]; ok {
			args[key] = cloneValue(v)
		}
	}

	return RouterSpec{Kind: kind, Params: args}, rest, nil
}
