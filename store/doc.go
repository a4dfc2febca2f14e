// Package store provides the durable, encrypted-at-rest account store: a single
// versioned JSON document holding every account record and the process-wide
// rotation settings.
//
// # Persistence
//
// Every mutating call clones the in-memory document, applies the change,
// rewrites the whole file (temp file, fsync, rename) and only then swaps the
// clone in. A failed write leaves both the file and the in-memory state as they
// were, and the error is returned to the caller.
//
// # Secrets
//
// Passwords are sealed with [crypt.Cipher] before they enter the document and
// are opened only by [Store.GetCredentials]. Views returned by listing calls
// never carry the sealed secret and mask the email unless asked not to.
//
// # Architecture boundaries
//
// The store owns the document and the key. Selection policy, busy tracking and
// strategy state live in the rotation package; the store only exposes the
// atomic bookkeeping primitives the scheduler needs.
package store
