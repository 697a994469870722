// Package audit implements the append-only security event record.
//
// # Components
//
//   - [Entry]: one audit record: actor, action, entity, request origin, outcome.
//   - [Logger]: completes entries (ULID id, timestamp, actor default), sanitizes
//     change values, writes to the durable [Store] and forwards to sinks.
//   - [Sink]: optional consumers (channel, JSON writer, rotating file).
//   - [Relay]: forwards entries to a sink off the request path; a full queue
//     either blocks or drops, per [Overflow].
//
// # Architecture boundaries
//
// This package does NOT decide which events to emit. That responsibility
// belongs to the Engine.
//
// # What this package must NOT do
//
//   - Roll back or fail the audited action when a write fails.
//   - Import goAccess or any sibling internal package.
package audit
