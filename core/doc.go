// Package core provides the domain types shared by every chatstream
// component:
//
//   - Events (the typed shapes consumed from an Event Source)
//   - Lanes (read views and closed snapshots of in-flight responses)
//   - Tool calls (lifecycle state nested in a response)
//   - Messages and Conversations (immutable finalized history)
//   - The error taxonomy surfaced at the aggregator boundary
//   - MessageStore, the persistence collaborator interface
//
// The package holds no behavior beyond constructors, validation and deep
// copies; state machines live in the flush, lane, toolcall and merge packages.
package core
