/*
Package ports defines the driven ports (interfaces) for filedrop's session layer.

These interfaces decouple the session middleware from concrete storage, allowing
the same request flow to run over the in-memory table, Redis, or the filesystem.

# Key Interfaces

  - SessionStore: the five-operation storage contract (Save, Load, Update, UpdateTTL, Delete).
  - Lister: read-only introspection over every stored session.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
*/
package ports
