// Package scenesync keeps a collaborative drawing in sync across clients.
//
// A [Session] binds one document to a render engine, a message channel shared
// with the other clients editing the same document, and the persistence
// backend.
//
// # Local changes
//
// The engine reports every mutation through [Session.HandleSceneChange].
// Changes are checked by the snapshot guard, diffed against what was last
// sent, and broadcast to peers at most once per broadcast interval. Each
// broadcast also marks the document dirty and restarts the autosave delay.
//
// # Remote changes
//
// Incoming updates are buffered and merged into the engine once per render
// frame, however many arrive in between. Merging follows a deterministic
// ladder (version, then updated time, then version nonce, then content) so
// every client converges on the same scene. While a merged scene is being
// pushed into the engine the session is in [StateApplyingRemote] and the
// engine's change notification is not treated as a local edit.
//
// # Persistence
//
// Saves run strictly one at a time with optimistic concurrency. A version
// conflict is retried once with the version the backend reported; a second
// conflict is surfaced through the [persist.Notifier].
//
// # Transports
//
// The channel is supplied by [Deps.Dial]. [github.com/surrealdb/scenesync/pkg/channel/gorillaws]
// is a plain websocket client and [github.com/surrealdb/scenesync/contrib/rews]
// wraps it with automatic reconnection. [github.com/surrealdb/scenesync/contrib/relay]
// is a room server they can talk to.
package scenesync
