// Package memory is the long-term, per-user semantic memory.
//
// Fragments are free text stored in the "memories" collection of a vector
// index and tagged with the owning user, so reads never cross users.
//
// Architecture:
//   - Store: Search/Append over a namespace (VectorStore is the index-backed one)
//   - Manager: what the engine calls, Retrieve for prompt injection and
//     Remember for explicit "remember" requests
//
// Fragments are never updated, merged or deleted here.
package memory
