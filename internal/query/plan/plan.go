// Package plan defines the physical plan tree: nodes that can be executed
// per partition into pull streams of Arrow records.
package plan

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/arkilian/ipcscan/pkg/types"
)

// EOF is returned by Stream.Read when the stream has no more records.
var EOF = io.EOF

// Stream is a pull-based sequence of records for one partition. A stream is
// read by a single goroutine.
type Stream interface {
	// Schema returns the schema every record of the stream has.
	Schema() *arrow.Schema

	// Read returns the next record, or EOF once the stream is done. The
	// caller owns the record and must Release it. After an error other
	// than EOF every later Read returns the same error.
	Read(ctx context.Context) (arrow.Record, error)

	// Close releases every resource held by the stream. It is idempotent
	// and may be called in any state.
	Close() error
}

// ExecutionPlan is a node of the physical plan tree.
type ExecutionPlan interface {
	// Name is the node kind.
	Name() string

	// Schema is the output schema.
	Schema() *arrow.Schema

	// OutputPartitioning is fixed when the node is built.
	OutputPartitioning() types.Partitioning

	// Children returns the input nodes, nil for leaves.
	Children() []ExecutionPlan

	// WithNewChildren returns a node with its inputs replaced.
	WithNewChildren(children []ExecutionPlan) (ExecutionPlan, error)

	// Execute starts one output partition. It does not block; all I/O
	// happens in Stream.Read.
	Execute(tc *TaskContext, partition int) (Stream, error)

	// Statistics estimates the output of the node.
	Statistics() types.Statistics

	// String is a one-line description of the node.
	String() string
}

// Explain renders the plan tree, one node per line, children indented.
func Explain(p ExecutionPlan) string {
	var sb strings.Builder
	explain(&sb, p, 0)
	return sb.String()
}

func explain(sb *strings.Builder, p ExecutionPlan, depth int) {
	fmt.Fprintf(sb, "%s%s\n", strings.Repeat("  ", depth), p.String())
	for _, child := range p.Children() {
		explain(sb, child, depth+1)
	}
}
