// Package orchestrator is the delegation façade. Every delegation request
// passes the same gates in a fixed order:
//
//  1. authorization against the hierarchy graph
//  2. file lock registration for the files the prompt intends to write
//  3. admission against the parent session's concurrency limit
//
// Admitted work either runs in the background, with completion reported
// later through CompleteBackground, or synchronously, in which case the
// convergence detector polls the child session until its output is stable.
// Both paths share the same post-processing: locks are released, verifier
// verdicts are recorded in the approval ledger, and clarification requests
// are routed through the round-trip protocol.
//
// Example usage:
//
//	o := orchestrator.New(runtime,
//		orchestrator.WithGate(gate),
//		orchestrator.WithLogger(logging.Component("orchestrator")),
//	)
//	o.Start(ctx)
//	resp, err := o.Delegate(ctx, orchestrator.Request{
//		ParentSessionID: "ses_parent",
//		Caller:          "Paul",
//		Agent:           "Joshua (Test Runner)",
//		Prompt:          "Run the test suite for src/auth.ts",
//	})
package orchestrator
