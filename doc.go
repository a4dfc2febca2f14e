// Package credpool spreads outbound API calls across a pool of
// credential-bearing accounts so no single account hits its upstream rate
// limit, while keeping every credential encrypted at rest.
//
// A [Pool] is assembled by [Builder.Build] and is safe to call from multiple
// goroutines. [Pool.Do] is the usual entry point: it selects an account,
// signs in (or reuses a cached token), runs the caller's function and records
// the outcome, rotating to another account on rate-limit or auth failures.
//
// # Architecture boundaries
//
// credpool is the public surface. It exposes [Pool], [Builder], [Config] and
// re-exports the account model from the store package. Persistence lives in
// store, selection in rotation, sign-in in validator and token caching in
// tokencache. Audit dispatch and metric storage live under internal/.
//
// # What this package must NOT do
//
//   - Log or return passwords, tokens or key material.
//   - Expose the Redis client or the document format in its API.
//   - Implement the upstream API protocol; callers do that inside Do.
package credpool
