// Package condition evaluates job/step `if:` expressions and matrix
// pattern expressions using a sandboxed goja JavaScript runtime, exposing
// the same expression context GitHub Actions workflows use:
// needs.<job>.outputs.<key>, matrix.<key>, env.<key>, and the success()/
// failure()/always()/cancelled() status helpers.
package condition

import (
	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/mergeci/controlplane/internal/model"
)

var log = logrus.WithField("component", "condition")

// NeedsOutcome is the upstream-job status/outputs a condition can inspect
// via needs.<job>.
type NeedsOutcome struct {
	Status  model.Status
	Outputs map[string]interface{}
}

// Context is everything an `if:` expression may reference.
type Context struct {
	Needs       map[string]NeedsOutcome
	Matrix      map[string]interface{}
	Env         map[string]string
	OverallOK   bool // true unless any dependency failed/was cancelled/timed out
	AnyFailed   bool
	AnyCanceled bool
}

// Evaluate runs expr (a GitHub-Actions-style expression, optionally wrapped
// in "${{ }}") against ctx and returns its boolean result. Per the pattern
// matcher's "never raise" philosophy, a condition that fails to parse or
// run is logged and treated as false rather than propagated as an error.
func Evaluate(expr string, ctx Context) bool {
	expr = stripExpressionDelimiters(expr)
	if expr == "" {
		return true
	}

	vm := goja.New()
	if err := injectContext(vm, ctx); err != nil {
		log.WithError(err).WithField("expr", expr).Warn("failed to build condition context")
		return false
	}

	val, err := vm.RunString(expr)
	if err != nil {
		log.WithError(err).WithField("expr", expr).Warn("ill-formed condition, treating as false")
		return false
	}
	return val.ToBoolean()
}

func injectContext(vm *goja.Runtime, ctx Context) error {
	needsObj := vm.NewObject()
	for job, outcome := range ctx.Needs {
		jobObj := vm.NewObject()
		_ = jobObj.Set("result", string(outcome.Status))
		outputsObj := vm.NewObject()
		for k, v := range outcome.Outputs {
			_ = outputsObj.Set(k, v)
		}
		_ = jobObj.Set("outputs", outputsObj)
		_ = needsObj.Set(job, jobObj)
	}
	if err := vm.Set("needs", needsObj); err != nil {
		return err
	}

	matrixObj := vm.NewObject()
	for k, v := range ctx.Matrix {
		_ = matrixObj.Set(k, v)
	}
	if err := vm.Set("matrix", matrixObj); err != nil {
		return err
	}

	envObj := vm.NewObject()
	for k, v := range ctx.Env {
		_ = envObj.Set(k, v)
	}
	if err := vm.Set("env", envObj); err != nil {
		return err
	}

	helpers := map[string]func(goja.FunctionCall) goja.Value{
		"success": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(ctx.OverallOK && !ctx.AnyFailed && !ctx.AnyCanceled)
		},
		"failure": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(ctx.AnyFailed)
		},
		"cancelled": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(ctx.AnyCanceled)
		},
		"always": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(true)
		},
	}
	for name, fn := range helpers {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// stripExpressionDelimiters unwraps a "${{ expr }}" shell, if present, and
// trims whitespace; a bare expression is passed through unchanged.
func stripExpressionDelimiters(expr string) string {
	s := trimSpace(expr)
	if len(s) >= 6 && s[:3] == "${{" && s[len(s)-2:] == "}}" {
		return trimSpace(s[3 : len(s)-2])
	}
	return s
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// DefaultJobCondition is the implicit condition applied to a job with no
// `if:` set: run unless an upstream dependency failed or was cancelled.
const DefaultJobCondition = "success()"
