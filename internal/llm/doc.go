// Package llm wraps language model providers behind a small Client interface,
// turns transport failures into plain text at the Gateway boundary, and decodes
// fenced or unfenced JSON model output into a tolerant Payload.
package llm
