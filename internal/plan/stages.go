// Package plan reads explain output.
package plan

import (
	"slices"
	"strings"

	"github.com/ppiankov/shapespectre/internal/shape"
)

// CollScanStage is the stage name of a full collection scan.
const CollScanStage = "COLLSCAN"

// Stages flattens an explain document into stage names, data access stage
// first and outermost stage last. Fan-in children are emitted last-listed
// first, each subtree ahead of its parent. Unrecognized input yields nil.
func Stages(explain shape.Value) []string {
	var visited []string
	collect(explain, &visited)
	slices.Reverse(visited)
	return visited
}

func collect(v shape.Value, out *[]string) {
	node, ok := v.(shape.Document)
	if !ok || len(node) == 0 {
		return
	}

	for _, wrapper := range []string{"queryPlanner", "winningPlan", "queryPlan"} {
		if inner, ok := node.Get(wrapper); ok {
			collect(inner, out)
			return
		}
	}

	if stage, ok := node.Get("stage"); ok {
		if name, ok := stage.(shape.String); ok {
			*out = append(*out, string(name))
		}
		if child, ok := node.Get("inputStage"); ok {
			collect(child, out)
		} else if children, ok := node.Array("inputStages"); ok {
			for _, child := range children {
				collect(child, out)
			}
		}
		return
	}

	// Aggregation explain wraps the query layer in the first pipeline stage.
	if stages, ok := node.Array("stages"); ok && len(stages) > 0 {
		if first, ok := stages[0].(shape.Document); ok {
			if cursor, ok := first.Get("$cursor"); ok {
				collect(cursor, out)
			}
		}
	}
}

// HasCollScan reports whether any stage is a collection scan.
func HasCollScan(stages []string) bool {
	for _, s := range stages {
		if strings.Contains(s, CollScanStage) {
			return true
		}
	}
	return false
}
