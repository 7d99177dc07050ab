/*
Package session implements HTTP session management on top of a ports.SessionStore.

A Middleware decodes the session cookie, loads the session state, and exposes it to
handlers as a *Session. Before the response headers are written it commits whatever
the handler did: new sessions are saved, changed ones updated, purged ones deleted,
and renewed ones moved to a fresh identifier.

Concurrent requests for the same session are serialized by a Manager, which keeps
reference-counted per-session mutexes and can additionally take a distributed lock
so that replicas sharing a durable store do not lose each other's updates.
*/
package session
