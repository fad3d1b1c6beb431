package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

var topLevelKeys = map[string]bool{
	"name": true, "on": true, "env": true, "defaults": true,
	"concurrency": true, "jobs": true,
}

var jobKeys = map[string]bool{
	"name": true, "runs_on": true, "runs-on": true, "needs": true, "if": true,
	"container": true, "services": true, "env": true, "steps": true,
	"strategy": true, "timeout_minutes": true, "timeout-minutes": true,
	"outputs": true, "concurrency": true,
}

var stepKeys = map[string]bool{
	"name": true, "id": true, "run": true, "uses": true, "with": true,
	"env": true, "working_directory": true, "working-directory": true,
	"shell": true, "if": true, "continue_on_error": true,
	"continue-on-error": true, "timeout_minutes": true, "timeout-minutes": true,
}

// validateStructure rejects unknown top-level/job/step keys, independent of
// and in addition to the semantic normalization pass in parser.go. Both
// error sets are unioned by the caller.
func validateStructure(doc *yaml.Node) []error {
	var errs []error
	for _, k := range mappingKeys(doc) {
		if !topLevelKeys[k] {
			errs = append(errs, fmt.Errorf("unknown top-level key %q", k))
		}
	}
	jobsNode := mappingGet(doc, "jobs")
	for _, jobKey := range mappingKeys(jobsNode) {
		jobNode := mappingGet(jobsNode, jobKey)
		if jobNode == nil || jobNode.Kind != yaml.MappingNode {
			continue
		}
		for _, k := range mappingKeys(jobNode) {
			if !jobKeys[k] {
				errs = append(errs, fmt.Errorf("jobs.%s: unknown key %q", jobKey, k))
			}
		}
		stepsNode := mappingGet(jobNode, "steps")
		if stepsNode == nil || stepsNode.Kind != yaml.SequenceNode {
			continue
		}
		for i, stepNode := range stepsNode.Content {
			if stepNode.Kind != yaml.MappingNode {
				continue
			}
			for _, k := range mappingKeys(stepNode) {
				if !stepKeys[k] {
					errs = append(errs, fmt.Errorf("jobs.%s.steps[%d]: unknown key %q", jobKey, i, k))
				}
			}
		}
	}
	return errs
}

// validateNeedsReferences checks that every needs[] entry names a declared
// job key.
func validateNeedsReferences(cfg *Config) []error {
	var errs []error
	for _, key := range cfg.JobOrder {
		job := cfg.Jobs[key]
		if job == nil {
			continue
		}
		for _, dep := range job.Needs {
			if _, ok := cfg.Jobs[dep]; !ok {
				errs = append(errs, fmt.Errorf("jobs.%s: needs references undeclared job %q", key, dep))
			}
		}
	}
	return errs
}

// detectCycle runs DFS with three-colouring over the needs[] adjacency list
// and emits a single error on the first back-edge found.
func detectCycle(cfg *Config) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(cfg.Jobs))
	for k := range cfg.Jobs {
		color[k] = white
	}

	var visit func(key string) bool
	visit = func(key string) bool {
		color[key] = gray
		job := cfg.Jobs[key]
		if job != nil {
			for _, dep := range job.Needs {
				if _, ok := cfg.Jobs[dep]; !ok {
					continue // already reported by validateNeedsReferences
				}
				switch color[dep] {
				case gray:
					return true
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		color[key] = black
		return false
	}

	for _, key := range cfg.JobOrder {
		if color[key] == white {
			if visit(key) {
				return fmt.Errorf("circular dependency detected")
			}
		}
	}
	return nil
}
