package condition

import (
	"testing"

	"github.com/mergeci/controlplane/internal/model"
)

func TestEvaluate_EmptyConditionDefaultsTrue(t *testing.T) {
	if !Evaluate("", Context{}) {
		t.Error("empty condition should evaluate true")
	}
}

func TestEvaluate_StripsExpressionDelimiters(t *testing.T) {
	ctx := Context{Env: map[string]string{"STAGE": "prod"}}
	if !Evaluate("${{ env.STAGE == 'prod' }}", ctx) {
		t.Error("expected env.STAGE == 'prod' to be true")
	}
	if Evaluate("${{ env.STAGE == 'dev' }}", ctx) {
		t.Error("expected env.STAGE == 'dev' to be false")
	}
}

func TestEvaluate_NeedsOutputsAndStatus(t *testing.T) {
	ctx := Context{
		Needs: map[string]NeedsOutcome{
			"build": {
				Status:  model.StatusSuccess,
				Outputs: map[string]interface{}{"artifact_id": "abc123"},
			},
		},
	}
	if !Evaluate("needs.build.result == 'success' && needs.build.outputs.artifact_id == 'abc123'", ctx) {
		t.Error("expected needs-based condition to be true")
	}
}

func TestEvaluate_MatrixValues(t *testing.T) {
	ctx := Context{Matrix: map[string]interface{}{"os": "ubuntu", "version": "20"}}
	if !Evaluate("matrix.os == 'ubuntu' && matrix.version == '20'", ctx) {
		t.Error("expected matrix-based condition to be true")
	}
}

func TestEvaluate_StatusHelpers(t *testing.T) {
	cases := []struct {
		name string
		expr string
		ctx  Context
		want bool
	}{
		{"success default", "success()", Context{OverallOK: true}, true},
		{"success after failure", "success()", Context{OverallOK: true, AnyFailed: true}, false},
		{"failure helper", "failure()", Context{AnyFailed: true}, true},
		{"cancelled helper", "cancelled()", Context{AnyCanceled: true}, true},
		{"always helper", "always()", Context{AnyFailed: true, AnyCanceled: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.expr, tc.ctx); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluate_IllFormedNeverPanicsAndIsFalse(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Evaluate panicked on ill-formed expression: %v", r)
		}
	}()
	if Evaluate("this is not ( valid js &&", Context{}) {
		t.Error("ill-formed condition should evaluate false")
	}
}

func TestEvaluate_UndefinedReferenceIsFalseNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Evaluate panicked on undefined reference: %v", r)
		}
	}()
	if Evaluate("needs.nonexistent.result == 'succeeded'", Context{}) {
		t.Error("reference to a non-existent needs entry should be false, not true")
	}
}
