// Package rotation picks one eligible account per outbound call and keeps the
// per-call bookkeeping in the account store up to date.
//
// # Eligibility
//
// An account is eligible when its status is active, it is not reserved by an
// in-flight call, and the fixed-window test ([store.Account.RateLimitedAt])
// does not limit it. Rate-limited accounts are returned to active lazily, at
// the next selection or usage read, once that test passes again.
//
// # Call protocol
//
//  1. [Scheduler.Next] selects and reserves an account.
//  2. [Scheduler.TrackRequest] once the call is dispatched.
//  3. [Scheduler.MarkSuccess] or [Scheduler.MarkFailed] with the outcome.
//  4. [Scheduler.MarkFree] to release the reservation.
//
// # Architecture boundaries
//
// The scheduler holds runtime-only state: the round-robin cursor and the busy
// set. Everything durable goes through the store. Settings are read from the
// store on every selection so an update takes effect on the next call.
//
// # What this package must NOT do
//
//   - Perform network I/O.
//   - Return an error from MarkFailed for bookkeeping reasons.
package rotation
