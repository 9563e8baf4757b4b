// Package session orchestrates live calls. A Session wires one telephony
// media stream to a speech recognizer, a conversational responder and a
// per-turn voice synthesizer, and runs the listen/respond cycle until a
// farewell or shutdown. The Manager tracks all live sessions and evicts
// stale ones.
package session
