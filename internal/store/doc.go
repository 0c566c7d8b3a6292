// Package store provides persistent storage for the switchboard using SQLite.
//
// # Architecture
//
// The store exposes a single Store interface covering all persistence
// concerns, with two implementations:
//
//   - SQLiteStore: Production storage backed by modernc.org/sqlite with
//     WAL mode enabled for concurrent readers
//   - MockStore: In-memory implementation for tests
//
// # Data Models
//
// Core models:
//
//   - Conversation: A customer support conversation with routing state,
//     message counters, and closure metadata
//   - QueueEntry: A conversation's place in a tenant's waiting queue
//   - Agent: A human support agent profile with aggregate performance stats
//   - AgentSession: A live login session carrying capacity counters
//
// Routing models:
//
//   - Tag: A skill category with a priority weight
//   - AgentTagProficiency: Per-agent skill rating with resolution history
//   - RoutingDecision: Audit record of a scoring pass (detected tags,
//     score breakdown, candidate ranking)
//
// Chat models:
//
//   - Message: An individual chat message with sender attribution
//
// Timestamps are stored as RFC3339 strings in UTC. All queries accept a
// context for cancellation. Lookups that find nothing return ErrNotFound.
package store
