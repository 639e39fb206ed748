package main

import (
	"github.com/mensbeam/Fork/engine"
	"github.com/mensbeam/Fork/exithook"
	"github.com/mensbeam/Fork/internal/cli"
	"github.com/mensbeam/Fork/internal/metrics"
)

func main() {
	// Re-executed copies of this binary run exactly one task and exit
	// inside Main; only the coordinator continues past this line.
	if engine.Main() {
		return
	}
	defer exithook.Process().Fire()

	metrics.EmitBuildInfo()
	cli.Execute()
}
