// Package tokencache keeps upstream bearer tokens between calls so the
// rotation loop signs in once per token lifetime rather than once per request.
//
// Two implementations satisfy [Cache]: [MemoryCache] for a single process and
// [RedisCache], which shares tokens between processes and stores them sealed
// with the account store's cipher.
//
// Lifetimes come from [TTL]: the JWT "exp" claim when the token is a JWT,
// otherwise the lifetime reported by the sign-in endpoint, otherwise
// [DefaultTTL]. A skew is subtracted so a token is never served right at its
// expiry.
//
// # What this package must NOT do
//
//   - Verify token signatures. Tokens are opaque to this process; only the
//     expiry claim is read.
//   - Store tokens in Redis unencrypted.
package tokencache
