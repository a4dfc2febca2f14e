// Package crypt seals account secrets at rest with AES-256-GCM and resolves the
// 32-byte symmetric key used to do so.
//
// # Record format
//
// A sealed secret is three standard-base64 fields joined by ':':
//
//	base64(iv) ":" base64(ciphertext) ":" base64(authTag)
//
// The IV is 16 random bytes, fresh for every call to [Cipher.Encrypt]. The
// authentication tag is the 16-byte GCM tag split off the sealed output.
//
// # Key sources
//
// [LoadKey] resolves the key in precedence order: explicit bytes, an argon2id
// passphrase, a hex key in the environment, a hex key file, and finally a newly
// generated key that is written to the key file with mode 0600.
//
// # What this package must NOT do
//
//   - Log or format key material or plaintext.
//   - Return plaintext when authentication fails.
package crypt
