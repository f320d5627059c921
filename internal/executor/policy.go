package executor

import (
	"github.com/casualjim/relay/messages"
)

// Mode is the execution strategy chosen for a batch of invocations.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// DefaultReadOnly lists the tools that never conflict when run concurrently.
func DefaultReadOnly() []string {
	return []string{
		"read_file",
		"grep_search",
		"file_search",
		"list_directory",
		"schema_analysis",
		"calculator",
		"get_user_information",
	}
}

// DefaultMutating lists the tools that force a batch to run sequentially.
func DefaultMutating() []string {
	return []string{
		"edit_file",
		"search_and_replace",
		"file_deletion",
		"run_terminal_cmd",
	}
}

// Policy decides how a batch of invocations is executed.
type Policy struct {
	Enabled     bool
	MaxParallel int
	readOnly    map[string]struct{}
	mutating    map[string]struct{}
}

// NewPolicy builds a policy. A name present in both sets is treated as mutating.
func NewPolicy(enabled bool, maxParallel int, readOnly, mutating []string) Policy {
	p := Policy{
		Enabled:     enabled,
		MaxParallel: maxParallel,
		readOnly:    make(map[string]struct{}, len(readOnly)),
		mutating:    make(map[string]struct{}, len(mutating)),
	}
	for _, name := range mutating {
		p.mutating[name] = struct{}{}
	}
	for _, name := range readOnly {
		if _, ok := p.mutating[name]; !ok {
			p.readOnly[name] = struct{}{}
		}
	}
	return p
}

// DefaultPolicy enables parallel execution with a fan-out of 10 over the default tool sets.
func DefaultPolicy() Policy {
	return NewPolicy(true, 10, DefaultReadOnly(), DefaultMutating())
}

// Classify picks the execution mode for a batch.
//
// Unknown tool names are assumed unsafe, so any batch that is not entirely
// read-only runs sequentially.
func (p Policy) Classify(invs []messages.ToolInvocation) Mode {
	if !p.Enabled || len(invs) <= 1 {
		return Sequential
	}
	for _, inv := range invs {
		if _, ok := p.mutating[inv.Name]; ok {
			return Sequential
		}
	}
	for _, inv := range invs {
		if _, ok := p.readOnly[inv.Name]; !ok {
			return Sequential
		}
	}
	return Parallel
}

// Plan is a classified batch. Run holds the invocations to execute and Skipped
// the ones cut by the fan-out limit or the remaining budget. Both keep the
// declaration order, RunIndex and SkippedIndex map entries back to their batch
// position.
type Plan struct {
	Mode         Mode
	Run          []messages.ToolInvocation
	RunIndex     []int
	Skipped      []messages.ToolInvocation
	SkippedIndex []int
	MaxParallel  int
}

// Size is the number of invocations in the original batch.
func (p Plan) Size() int {
	return len(p.Run) + len(p.Skipped)
}

// Plan classifies the batch and, for parallel batches, truncates it to the
// fan-out limit and to the remaining tool call budget. A negative budget means
// unlimited.
func (p Policy) Plan(invs []messages.ToolInvocation, remainingBudget int) Plan {
	plan := Plan{Mode: p.Classify(invs), MaxParallel: 1}
	limit := len(invs)
	if plan.Mode == Parallel {
		if p.MaxParallel > 0 && p.MaxParallel < limit {
			limit = p.MaxParallel
		}
		if remainingBudget >= 0 && remainingBudget < limit {
			limit = remainingBudget
		}
		plan.MaxParallel = limit
	}

	for i, inv := range invs {
		if i < limit {
			plan.Run = append(plan.Run, inv)
			plan.RunIndex = append(plan.RunIndex, i)
			continue
		}
		plan.Skipped = append(plan.Skipped, inv)
		plan.SkippedIndex = append(plan.SkippedIndex, i)
	}
	return plan
}
