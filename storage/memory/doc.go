// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments; multi-instance deployments need a shared backend such as
// storage/valkey.
package memory
