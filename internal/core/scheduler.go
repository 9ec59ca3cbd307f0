package core

// PlannedStage pairs a top-level stage with its guard decision.
type PlannedStage struct {
	Stage    *Stage
	Included bool
}

// Plan resolves which top-level stages a run will include, given the run
// environment and parameters. Guards on parallel children are evaluated
// later, when the group executes.
func Plan(p *Pipeline, lookup LookupFunc, params map[string]bool) []PlannedStage {
	planned := make([]PlannedStage, 0, len(p.Stages))
	for i := range p.Stages {
		st := &p.Stages[i]
		planned = append(planned, PlannedStage{
			Stage:    st,
			Included: st.When.Evaluate(lookup, params),
		})
	}
	return planned
}
