/*
Package domain contains the core session models shared by every store backend.

It defines what a session looks like to the storage layer and the error taxonomy
that backends report. This package is kept pure and free of external dependencies
like I/O or persistence.

# Key Entities

  - State: the application-defined key/value payload of a session.
  - Record: a State paired with its time-to-live, as held by a store.
  - Entry: a Record together with its identifier, used for introspection.
  - ExpiryPolicy: whether a store enforces the TTL it carries.
*/
package domain
