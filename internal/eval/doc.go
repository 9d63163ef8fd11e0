// Package eval runs the copilot against a JSON dataset of queries, checks that
// the expected tools were planned, and asks the language model to judge how
// many expected facts made it into each answer.
package eval
