// Package valkey provides a Valkey/Redis-backed implementation of all
// storage interfaces, suitable for multi-instance deployments where every
// node must see the same codes, tokens, and clients.
//
// # Key Layout
//
// All keys share a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}          registered client (JSON)
//	{prefix}code:{code}                authorization code (JSON, TTL = code TTL)
//	{prefix}access:{token}             access token (JSON, TTL = token TTL)
//	{prefix}refresh:{token}            refresh token (JSON, TTL = token TTL)
//	{prefix}grants:{userID}:{clientID} set of tokens for replay revocation
//
// Expiry is enforced twice: Valkey TTLs reclaim storage, and the expires_at
// timestamp inside each record is checked on read, so a node with a skewed
// clock cannot resurrect an expired grant.
//
// # Atomicity
//
// Code and refresh token consumption run as Lua scripts, so the
// check-and-mark is a single server-side step and exactly one of any number
// of concurrent consumers wins. Consumed records are kept (KEEPTTL) until
// their natural expiry, which is what lets a replayed code or rotated
// refresh token be recognized as a replay rather than reported as unknown.
package valkey
