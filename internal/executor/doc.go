// Package executor runs tool invocations on behalf of the orchestrator.
//
// Design decisions:
//   - Failures are data: a missing tool, a returned error or a panic all become a
//     failed ToolOutcome, never an error returned to the caller
//   - Policy first: a Policy turns a batch into a Plan (mode, invocations to run,
//     invocations cut by limits) before anything executes
//   - Progress as a stream: Dispatch reports start and completion of every
//     invocation on a channel, so the caller decides how to surface them while
//     outcomes are still collected by declaration index
//
// Key components:
//
//   - Runner: executes one invocation against a tool.Registry
//     ├── Execute: resolve, run, time and stringify
//     └── Dispatch: run a Plan sequentially or with bounded fan-out
//
//   - Policy: PARALLEL or SEQUENTIAL classification
//     ├── Classify: the mode for a batch
//     └── Plan: mode plus fan-out and budget truncation
//
//   - Stringify: converts tool results into the text injected into history
package executor
