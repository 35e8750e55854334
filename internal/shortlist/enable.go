package shortlist

// Enablement resolves whether the shortlist runs for one turn. Precedence,
// highest first: lean flag, per-request override, per-model override,
// global per-mode flag.
type Enablement struct {
	Lean         bool
	Request      *bool
	Model        *bool
	ResearchMode bool

	GlobalStandard bool
	GlobalResearch bool
}

// Enabled applies the precedence chain.
func (e Enablement) Enabled() bool {
	if e.Lean {
		return false
	}
	if e.Request != nil {
		return *e.Request
	}
	if e.Model != nil {
		return *e.Model
	}
	if e.ResearchMode {
		return e.GlobalResearch
	}
	return e.GlobalStandard
}
