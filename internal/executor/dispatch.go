package executor

import (
	"context"

	"github.com/casualjim/relay/messages"
	"golang.org/x/sync/errgroup"
)

// Progress reports a change in the execution of a single invocation.
// Outcome is nil when the invocation has just started.
type Progress struct {
	Index      int
	Invocation messages.ToolInvocation
	Outcome    *messages.ToolOutcome
	Skipped    bool
}

// Started reports whether this is the start notification of an invocation.
func (p Progress) Started() bool {
	return p.Outcome == nil
}

// Dispatch executes the plan and reports progress on the returned channel,
// which is closed once every invocation has completed.
//
// Sequential plans alternate start and completion per invocation. Parallel
// plans report every start first and completions in the order they finish.
// Skipped invocations are reported last with a not executed outcome. The
// channel is buffered for the whole batch so the execution never blocks on a
// slow reader.
func (r *Runner) Dispatch(ctx context.Context, plan Plan) <-chan Progress {
	ch := make(chan Progress, 2*plan.Size())

	go func() {
		defer close(ch)

		switch plan.Mode {
		case Parallel:
			r.runParallel(ctx, plan, ch)
		default:
			r.runSequential(ctx, plan, ch)
		}

		for i, inv := range plan.Skipped {
			outcome := NotExecuted(inv)
			ch <- Progress{Index: plan.SkippedIndex[i], Invocation: inv, Outcome: &outcome, Skipped: true}
		}
	}()

	return ch
}

func (r *Runner) runSequential(ctx context.Context, plan Plan, ch chan<- Progress) {
	for i, inv := range plan.Run {
		idx := plan.RunIndex[i]
		ch <- Progress{Index: idx, Invocation: inv}
		outcome := r.Execute(ctx, inv)
		ch <- Progress{Index: idx, Invocation: inv, Outcome: &outcome}
	}
}

func (r *Runner) runParallel(ctx context.Context, plan Plan, ch chan<- Progress) {
	for i, inv := range plan.Run {
		ch <- Progress{Index: plan.RunIndex[i], Invocation: inv}
	}

	// Execute never fails; the group only bounds concurrency.
	var g errgroup.Group
	if plan.MaxParallel > 0 {
		g.SetLimit(plan.MaxParallel)
	}
	for i, inv := range plan.Run {
		idx := plan.RunIndex[i]
		g.Go(func() error {
			outcome := r.Execute(ctx, inv)
			ch <- Progress{Index: idx, Invocation: inv, Outcome: &outcome}
			return nil
		})
	}
	_ = g.Wait()
}

// Collect drains a progress channel and returns the outcomes in batch order.
func Collect(progress <-chan Progress, size int) []messages.ToolOutcome {
	outcomes := make([]messages.ToolOutcome, size)
	for p := range progress {
		if p.Outcome != nil && p.Index < size {
			outcomes[p.Index] = *p.Outcome
		}
	}
	return outcomes
}
