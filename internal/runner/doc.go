// Package runner coordinates message exchange with the Anthropic Messages API,
// dispatches tool calls, and appends the resulting envelopes to the live
// session manifest.
//
// Invariants:
//   - tool_use and the corresponding tool_result stay adjacent within a turn
//     to preserve execution context and simplify follow-up reasoning.
//   - every step ends with the manifest saved, so a crash loses at most the
//     in-flight exchange.
//
// Flow:
//
//	user(text) -> assistant(tool_use) -> user(tool_result) -> assistant(text)
package runner
