// Package conversation stores conversation histories in memory.
//
// A Conversation is an ordered list of canonical messages plus timestamps and
// a free-form metadata map. Messages are only ever appended; the order in
// which they were appended is the turn order sent back to the providers.
//
// The Store interface is what the orchestrator depends on. NewMemory returns
// the in-process implementation: conversations live until they are deleted
// explicitly, and there is no eviction. Operations on distinct ids never
// block each other because every conversation carries its own lock. Callers
// that run concurrent turns against the same id have to serialize them
// themselves; the store only guarantees that each individual append is atomic.
//
// The Service type wraps a Store with the result shapes exposed to clients:
// clearing a conversation, listing the known ids and summarizing one history.
// None of these return errors for missing conversations, a missing id is a
// structured not-found result.
package conversation
