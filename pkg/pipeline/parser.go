package pipeline

import (
	"fmt"
	"regexp"

	"github.com/mergeci/controlplane/pkg/matrix"
	"gopkg.in/yaml.v3"
)

var jobKeyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Load parses a YAML document into a normalized Config. It never panics or
// returns early on a malformed section: every problem is appended to the
// returned error slice and parsing continues best-effort so later sections
// are still checked.
func Load(yamlRaw string) (*Config, []error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(yamlRaw), &root); err != nil {
		return nil, []error{fmt.Errorf("invalid YAML: %w", err)}
	}
	if len(root.Content) == 0 {
		return nil, []error{fmt.Errorf("empty document")}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, []error{fmt.Errorf("top-level document must be a mapping")}
	}

	var errs []error
	cfg := &Config{Jobs: map[string]*JobConfig{}}

	if nameNode := mappingGet(doc, "name"); nameNode != nil {
		_ = nameNode.Decode(&cfg.Name)
	}

	if envNode := mappingGet(doc, "env"); envNode != nil {
		if m, err := stringMap(envNode); err != nil {
			errs = append(errs, fmt.Errorf("env: %w", err))
		} else {
			cfg.Env = m
		}
	}

	if defNode := mappingGet(doc, "defaults"); defNode != nil {
		if v, err := genericValue(defNode); err != nil {
			errs = append(errs, fmt.Errorf("defaults: %w", err))
		} else if m, ok := v.(map[string]interface{}); ok {
			cfg.Defaults = m
		}
	}

	if onNode := mappingGet(doc, "on"); onNode != nil {
		on, onErrs := parseOn(onNode)
		cfg.On = on
		errs = append(errs, onErrs...)
	} else {
		errs = append(errs, fmt.Errorf("missing required key \"on\""))
	}

	if concNode := mappingGet(doc, "concurrency"); concNode != nil {
		conc, err := parseConcurrency(concNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("concurrency: %w", err))
		}
		cfg.Concurrency = conc
	}

	jobsNode := mappingGet(doc, "jobs")
	if jobsNode == nil {
		errs = append(errs, fmt.Errorf("missing required key \"jobs\""))
	} else {
		jobOrder, jobErrs := parseJobs(jobsNode, cfg)
		cfg.JobOrder = jobOrder
		errs = append(errs, jobErrs...)
	}

	errs = append(errs, validateNeedsReferences(cfg)...)
	if cycleErr := detectCycle(cfg); cycleErr != nil {
		errs = append(errs, cycleErr)
	}
	errs = append(errs, validateStructure(doc)...)

	return cfg, errs
}

func parseOn(n *yaml.Node) (OnConfig, []error) {
	var errs []error
	var out OnConfig

	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return out, append(errs, fmt.Errorf("on: %w", err))
		}
		out.Keys = []string{s}
		applyTrigger(&out, s, nil, &errs)
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return out, append(errs, fmt.Errorf("on: %w", err))
		}
		out.Keys = list
		for _, s := range list {
			applyTrigger(&out, s, nil, &errs)
		}
	case yaml.MappingNode:
		keys := mappingKeys(n)
		out.Keys = keys
		for _, k := range keys {
			applyTrigger(&out, k, mappingGet(n, k), &errs)
		}
	default:
		errs = append(errs, fmt.Errorf("on: unsupported shape"))
	}
	return out, errs
}

func applyTrigger(out *OnConfig, name string, cfgNode *yaml.Node, errs *[]error) {
	switch name {
	case "push":
		pc, err := parsePushPull(cfgNode)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("on.push: %w", err))
			return
		}
		out.Push = pc
	case "pull_request":
		pc, err := parsePushPull(cfgNode)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("on.pull_request: %w", err))
			return
		}
		pr := &PullRequestConfig{PushPullConfig: *pc}
		if cfgNode != nil {
			if typesNode, _ := mappingGetNormalized(cfgNode, "types"); typesNode != nil {
				types, err := stringList(typesNode)
				if err != nil {
					*errs = append(*errs, fmt.Errorf("on.pull_request.types: %w", err))
				} else {
					pr.Types = types
				}
			}
		}
		if len(pr.Types) == 0 {
			pr.Types = append([]string{}, DefaultPullRequestTypes...)
		}
		out.PullRequest = pr
	case "schedule":
		entries, err := parseSchedule(cfgNode)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("on.schedule: %w", err))
			return
		}
		out.Schedule = entries
	case "workflow_dispatch":
		wd, err := parseWorkflowDispatch(cfgNode)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("on.workflow_dispatch: %w", err))
			return
		}
		out.WorkflowDispatch = wd
	default:
		// Other trigger names (e.g. release, issues) are accepted but not
		// modeled further by this control plane.
	}
}

func parsePushPull(n *yaml.Node) (*PushPullConfig, error) {
	pc := &PushPullConfig{}
	if n == nil || (n.Kind == yaml.ScalarNode) {
		// string/empty/true shape: unconstrained trigger.
		return pc, nil
	}
	if n.Kind != yaml.MappingNode {
		return pc, errInvalidShape("expected mapping, string, or empty value")
	}

	fields := []struct {
		key  string
		dest *[]string
	}{
		{"branches", &pc.Branches},
		{"branches_ignore", &pc.BranchesIgnore},
		{"paths", &pc.Paths},
		{"paths_ignore", &pc.PathsIgnore},
		{"tags", &pc.Tags},
		{"tags_ignore", &pc.TagsIgnore},
	}
	for _, f := range fields {
		node, _ := mappingGetNormalized(n, f.key)
		list, err := stringList(node)
		if err != nil {
			return pc, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dest = list
	}
	return pc, nil
}

func parseSchedule(n *yaml.Node) ([]ScheduleEntry, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, errInvalidShape("schedule must be a list")
	}
	var out []ScheduleEntry
	for _, item := range n.Content {
		cronNode := mappingGet(item, "cron")
		if cronNode == nil {
			return nil, errInvalidShape("schedule entry missing \"cron\"")
		}
		var cron string
		if err := cronNode.Decode(&cron); err != nil {
			return nil, err
		}
		if !isWellFormedCron(cron) {
			return nil, fmt.Errorf("invalid cron expression %q", cron)
		}
		out = append(out, ScheduleEntry{Cron: cron})
	}
	return out, nil
}

// isWellFormedCron applies the spec's minimal validation: 5 or 6
// whitespace-separated fields. Stricter field-range validation is left to
// internal/schedule (robfig/cron/v3) at registration time.
func isWellFormedCron(cron string) bool {
	fields := 0
	inField := false
	for _, r := range cron {
		isSpace := r == ' ' || r == '\t'
		if !isSpace && !inField {
			fields++
			inField = true
		} else if isSpace {
			inField = false
		}
	}
	return fields == 5 || fields == 6
}

func parseWorkflowDispatch(n *yaml.Node) (*WorkflowDispatchConfig, error) {
	if n == nil {
		return &WorkflowDispatchConfig{}, nil
	}
	inputsNode := mappingGet(n, "inputs")
	if inputsNode == nil {
		return &WorkflowDispatchConfig{}, nil
	}
	if inputsNode.Kind != yaml.MappingNode {
		return nil, errInvalidShape("workflow_dispatch.inputs must be a mapping")
	}
	wd := &WorkflowDispatchConfig{Inputs: map[string]WorkflowInput{}}
	for _, key := range mappingKeys(inputsNode) {
		itemNode := mappingGet(inputsNode, key)
		var raw struct {
			Description string      `yaml:"description"`
			Required    bool        `yaml:"required"`
			Default     interface{} `yaml:"default"`
			Type        string      `yaml:"type"`
			Options     []string    `yaml:"options"`
		}
		if err := itemNode.Decode(&raw); err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		if raw.Type == "" {
			raw.Type = "string"
		}
		wd.Inputs[key] = WorkflowInput{
			Description: raw.Description,
			Required:    raw.Required,
			Default:     raw.Default,
			Type:        raw.Type,
			Options:     raw.Options,
		}
		wd.InputOrder = append(wd.InputOrder, key)
	}
	return wd, nil
}

func parseConcurrency(n *yaml.Node) (*ConcurrencyConfig, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return nil, err
		}
		return &ConcurrencyConfig{Group: s}, nil
	case yaml.MappingNode:
		var group string
		var cancel bool
		if gn := mappingGet(n, "group"); gn != nil {
			_ = gn.Decode(&group)
		}
		if cn, key := mappingGetNormalized(n, "cancel_in_progress"); cn != nil {
			_ = key
			_ = cn.Decode(&cancel)
		}
		return &ConcurrencyConfig{Group: group, CancelInProgress: cancel}, nil
	default:
		return nil, errInvalidShape("concurrency must be a string or mapping")
	}
}

func parseJobs(n *yaml.Node, cfg *Config) ([]string, []error) {
	var errs []error
	if n.Kind != yaml.MappingNode {
		return nil, append(errs, fmt.Errorf("jobs must be a mapping"))
	}
	keys := mappingKeys(n)
	if len(keys) == 0 {
		errs = append(errs, fmt.Errorf("jobs must declare at least one job"))
	}
	for _, key := range keys {
		if !jobKeyRegexp.MatchString(key) {
			errs = append(errs, fmt.Errorf("job key %q does not match ^[A-Za-z_][A-Za-z0-9_-]*$", key))
		}
		jobNode := mappingGet(n, key)
		job, jobErrs := parseJob(key, jobNode)
		for _, e := range jobErrs {
			errs = append(errs, fmt.Errorf("jobs.%s: %w", key, e))
		}
		cfg.Jobs[key] = job
	}
	return keys, errs
}

func parseJob(key string, n *yaml.Node) (*JobConfig, []error) {
	var errs []error
	job := &JobConfig{Key: key, Name: key}
	if n == nil || n.Kind != yaml.MappingNode {
		return job, append(errs, fmt.Errorf("job must be a mapping"))
	}

	if nameNode := mappingGet(n, "name"); nameNode != nil {
		_ = nameNode.Decode(&job.Name)
	}

	runsOnNode, _ := mappingGetNormalized(n, "runs_on")
	runsOn, err := stringList(runsOnNode)
	if err != nil {
		errs = append(errs, fmt.Errorf("runs_on: %w", err))
	}
	job.RunsOn = runsOn
	if len(job.RunsOn) == 0 {
		errs = append(errs, fmt.Errorf("runs_on must be non-empty"))
	}

	needs, err := stringList(mappingGet(n, "needs"))
	if err != nil {
		errs = append(errs, fmt.Errorf("needs: %w", err))
	}
	job.Needs = needs

	if ifNode := mappingGet(n, "if"); ifNode != nil {
		_ = ifNode.Decode(&job.Condition)
	}
	if containerNode := mappingGet(n, "container"); containerNode != nil {
		if containerNode.Kind == yaml.ScalarNode {
			_ = containerNode.Decode(&job.Container)
		} else if v, err := genericValue(containerNode); err == nil {
			if m, ok := v.(map[string]interface{}); ok {
				if img, ok := m["image"].(string); ok {
					job.Container = img
				}
			}
		}
	}
	if servicesNode := mappingGet(n, "services"); servicesNode != nil {
		if v, err := genericValue(servicesNode); err == nil {
			if m, ok := v.(map[string]interface{}); ok {
				job.Services = m
			}
		}
	}
	if envNode := mappingGet(n, "env"); envNode != nil {
		m, err := stringMap(envNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("env: %w", err))
		}
		job.Env = m
	}
	if toNode, _ := mappingGetNormalized(n, "timeout_minutes"); toNode != nil {
		_ = toNode.Decode(&job.TimeoutMinutes)
	}
	if outputsNode := mappingGet(n, "outputs"); outputsNode != nil {
		m, err := stringMap(outputsNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("outputs: %w", err))
		}
		job.Outputs = m
	}
	if concNode := mappingGet(n, "concurrency"); concNode != nil {
		conc, err := parseConcurrency(concNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("concurrency: %w", err))
		}
		job.Concurrency = conc
	}

	if stratNode := mappingGet(n, "strategy"); stratNode != nil {
		strat, stratErrs := parseStrategy(stratNode)
		job.Strategy = strat
		errs = append(errs, stratErrs...)
	}

	stepsNode := mappingGet(n, "steps")
	if stepsNode == nil || stepsNode.Kind != yaml.SequenceNode || len(stepsNode.Content) == 0 {
		errs = append(errs, fmt.Errorf("steps must be a non-empty list"))
	} else {
		for i, stepNode := range stepsNode.Content {
			step, stepErrs := parseStep(stepNode)
			for _, e := range stepErrs {
				errs = append(errs, fmt.Errorf("steps[%d]: %w", i, e))
			}
			job.Steps = append(job.Steps, step)
		}
	}

	return job, errs
}

func parseStep(n *yaml.Node) (StepConfig, []error) {
	var errs []error
	var step StepConfig
	if n.Kind != yaml.MappingNode {
		return step, append(errs, fmt.Errorf("step must be a mapping"))
	}
	if v := mappingGet(n, "name"); v != nil {
		_ = v.Decode(&step.Name)
	}
	if v := mappingGet(n, "id"); v != nil {
		_ = v.Decode(&step.ID)
	}
	runNode := mappingGet(n, "run")
	usesNode := mappingGet(n, "uses")
	if runNode != nil {
		_ = runNode.Decode(&step.Run)
	}
	if usesNode != nil {
		_ = usesNode.Decode(&step.Uses)
	}
	if (runNode == nil) == (usesNode == nil) {
		errs = append(errs, fmt.Errorf("exactly one of run/uses must be set"))
	}
	if withNode := mappingGet(n, "with"); withNode != nil {
		if v, err := genericValue(withNode); err == nil {
			if m, ok := v.(map[string]interface{}); ok {
				step.With = m
			}
		}
	}
	if envNode := mappingGet(n, "env"); envNode != nil {
		m, err := stringMap(envNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("env: %w", err))
		}
		step.Env = m
	}
	if wdNode, _ := mappingGetNormalized(n, "working_directory"); wdNode != nil {
		_ = wdNode.Decode(&step.WorkingDirectory)
	}
	step.Shell = "bash"
	if shellNode := mappingGet(n, "shell"); shellNode != nil {
		_ = shellNode.Decode(&step.Shell)
	}
	if ifNode := mappingGet(n, "if"); ifNode != nil {
		_ = ifNode.Decode(&step.Condition)
	}
	if coeNode, _ := mappingGetNormalized(n, "continue_on_error"); coeNode != nil {
		_ = coeNode.Decode(&step.ContinueOnError)
	}
	if toNode, _ := mappingGetNormalized(n, "timeout_minutes"); toNode != nil {
		_ = toNode.Decode(&step.TimeoutMinutes)
	}
	return step, errs
}

func parseStrategy(n *yaml.Node) (*StrategyConfig, []error) {
	var errs []error
	strat := &StrategyConfig{FailFast: true}
	if n.Kind != yaml.MappingNode {
		return strat, append(errs, fmt.Errorf("strategy must be a mapping"))
	}
	if ffNode, _ := mappingGetNormalized(n, "fail_fast"); ffNode != nil {
		_ = ffNode.Decode(&strat.FailFast)
	}
	if mpNode, _ := mappingGetNormalized(n, "max_parallel"); mpNode != nil {
		_ = mpNode.Decode(&strat.MaxParallel)
	}
	if matrixNode := mappingGet(n, "matrix"); matrixNode != nil {
		m, err := parseMatrix(matrixNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("matrix: %w", err))
		}
		strat.Matrix = m
	}
	return strat, errs
}

func parseMatrix(n *yaml.Node) (matrix.Matrix, error) {
	var m matrix.Matrix
	if n.Kind != yaml.MappingNode {
		return m, errInvalidShape("matrix must be a mapping")
	}
	m.Variables = map[string][]interface{}{}
	for _, key := range mappingKeys(n) {
		if key == "include" || key == "exclude" {
			continue
		}
		valuesNode := mappingGet(n, key)
		if valuesNode.Kind != yaml.SequenceNode {
			return m, fmt.Errorf("variable %q must be a list", key)
		}
		var values []interface{}
		if err := valuesNode.Decode(&values); err != nil {
			return m, fmt.Errorf("variable %q: %w", key, err)
		}
		m.Variables[key] = values
		m.VariableKeys = append(m.VariableKeys, key)
	}
	if incNode := mappingGet(n, "include"); incNode != nil {
		combos, err := parseCombinationList(incNode)
		if err != nil {
			return m, fmt.Errorf("include: %w", err)
		}
		m.Include = combos
	}
	if excNode := mappingGet(n, "exclude"); excNode != nil {
		combos, err := parseCombinationList(excNode)
		if err != nil {
			return m, fmt.Errorf("exclude: %w", err)
		}
		m.Exclude = combos
	}
	return m, nil
}

func parseCombinationList(n *yaml.Node) ([]matrix.Combination, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, errInvalidShape("must be a list of mappings")
	}
	var out []matrix.Combination
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, errInvalidShape("entry must be a mapping")
		}
		keys := mappingKeys(item)
		values := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			v, err := genericValue(mappingGet(item, k))
			if err != nil {
				return nil, err
			}
			values[k] = v
		}
		out = append(out, matrix.NewCombination(keys, values))
	}
	return out, nil
}
