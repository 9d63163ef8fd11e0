// Package agent implements the query pipeline: a planner call produces an
// ordered list of steps, the executor resolves each step against the tool
// registry, a verifier call labels the gathered information, and a final call
// writes the answer. Every stage degrades to a default value instead of failing
// the run.
package agent
