package pipeline

// Result is the outcome of Load: the best-effort normalized Config plus
// every accumulated error. IsValid mirrors PipelineConfig.is_valid in the
// data model: len(Errors) == 0.
type Result struct {
	Config  *Config
	Errors  []string
	IsValid bool
}

// LoadAndValidate wraps Load, converting accumulated errors to strings and
// stamping IsValid — the shape persisted on a PipelineConfig row.
func LoadAndValidate(yamlRaw string) Result {
	cfg, errs := Load(yamlRaw)
	strs := make([]string, 0, len(errs))
	for _, e := range errs {
		strs = append(strs, e.Error())
	}
	return Result{Config: cfg, Errors: strs, IsValid: len(strs) == 0}
}
