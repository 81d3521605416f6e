// Package harness runs YAML scenarios against the real engine and
// coordinator over a loopback channel.
//
// A scenario bootstraps a session, then plays steps in order: presence
// events, peer broadcasts and user mutations with scripted server replies.
// The engine is drained after every step, so each step observes the
// state left by the previous one. Assertions run against the applied
// action trace and the final state; the trace and the pushes sent can
// also be compared against a golden file.
package harness
