// Package llm implements the conversational response engine: per-call system
// instructions and turn history against a language model, with full and
// sentence-streamed response modes.
package llm
