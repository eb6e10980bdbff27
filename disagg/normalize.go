package disagg

// Section names used in conflict reporting.
const (
	sectionContext    = "context_servers"
	sectionGeneration = "generation_servers"
)

// NormalizeSections folds every top-level parameter into both role sections,
// making each section self-contained. A key already present in a section
// must hold a value structurally equal to the top-level one, otherwise the
// fold fails with ConfigConflictError.
//
// Pure: the inputs are never mutated; fresh, fully-resolved copies are
// returned. Keys are folded in lexical order so every process reports the
// same conflict first.
func NormalizeSections(top, ctx, gen Params) (Params, Params, error) {
	ctxOut := ctx.Clone()
	if ctxOut == nil {
		ctxOut = Params{}
	}
	genOut := gen.Clone()
	if genOut == nil {
		genOut = Params{}
	}

	sections := []struct {
		name   string
		params Params
	}{
		{sectionContext, ctxOut},
		{sectionGeneration, genOut},
	}

	for _, key := range top.sortedKeys() {
		value := top[key]
		for _, sec := range sections {
			existing, ok := sec.params[key]
			if !ok {
				sec.params[key] = cloneValue(value)
				continue
			}
			if !valuesEqual(existing, value) {
				return nil, nil, &ConfigConflictError{
					Key:          key,
					Section:      sec.name,
					TopValue:     value,
					SectionValue: existing,
				}
			}
		}
	}

	return ctxOut, genOut, nil
}
