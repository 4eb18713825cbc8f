// Package session tracks connected clients and their key subscriptions.
//
// The main components are:
//
//   - [Session]: One connected client, its three channels and its
//     subscription set
//   - [Registry]: Bounded slot map of live sessions, guarded by a single
//     mutex
//
// A session's subscription set is owned by the registry and only read or
// changed under the registry lock. The subscriber scan in notification
// fan-out ([Registry.Fanout]) is therefore mutually exclusive with
// subscription changes and session removal, while the notification writes
// themselves happen outside the lock.
package session
