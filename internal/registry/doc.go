// Package registry holds pending call specifications between the moment an
// outbound call is placed and the moment its media stream connects. Entries
// are claimed exactly once and evicted after a TTL if the call never connects.
package registry
