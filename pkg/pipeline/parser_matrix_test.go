package pipeline

import (
	"testing"

	"github.com/mergeci/controlplane/pkg/matrix"
)

func TestLoad_StrategyMatrix_S4(t *testing.T) {
	yaml := `
on: push
jobs:
  build:
    runs-on: [ubuntu-latest]
    strategy:
      matrix:
        os: [ubuntu, macos]
        node: [18, 20]
        exclude:
          - os: macos
            node: 18
        include:
          - os: ubuntu
            node: 16
            experimental: true
    steps: [{run: echo}]
`
	cfg, errs := Load(yaml)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	job := cfg.Jobs["build"]
	if job.Strategy == nil {
		t.Fatal("expected strategy to be parsed")
	}
	combos := matrix.Expand(job.Strategy.Matrix)
	if len(combos) != 4 {
		t.Fatalf("expected 4 combinations, got %d: %+v", len(combos), combos)
	}
}
