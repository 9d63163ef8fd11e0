// Package knowledge implements the knowledge-base lookup behind the kb_search
// tool: a literal keyword match over a small, read-only article corpus.
package knowledge
