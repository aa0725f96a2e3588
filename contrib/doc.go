// Package contrib provides additional functionality and utilities
// for scenesync.
//
// Everything in this package extends the core session library with
// pieces most deployments need but the library itself does not depend on.
//
// Note that this package is outside of the backward compatibility guarantees
// provided by the core scenesync packages. Changes to this package may
// introduce breaking changes without following semantic versioning.
//
// The [github.com/surrealdb/scenesync/contrib/rews] package offers a
// reconnecting channel that keeps handlers registered across dropped
// sockets. [github.com/surrealdb/scenesync/contrib/relay] is the room-keyed
// websocket server sessions talk through, with an optional redis backplane
// for running several instances.
package contrib
