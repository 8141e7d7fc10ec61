// Package auth implements a session aware authentication engine: JWT access
// and refresh token issuance, refresh token rotation, per user session lists
// kept in a shared cache, and encrypted-at-rest session blobs.
//
// Session lifecycle:
//   - Every successful sign in (password, social profile) mints a TokenPair
//     and appends a Session to the user's CachedUser record.
//   - Refresh rotates a session: the session that held the old refresh token
//     is removed and a new one is appended. The old refresh token stops
//     authenticating as soon as the write lands.
//   - SignOut removes the current session, prunes sessions whose refresh
//     token no longer verifies, and drops the whole record with the last one.
//
// User data:
//   - The host application owns users and plugs them in through UserProvider.
//     Optional capabilities (lookup by email or username, email senders,
//     lifecycle listeners) are detected once when the Service is built.
//
// Events:
//   - Each operation emits an Event after it succeeds or fails. Listeners run
//     best-effort: errors and panics are logged and never change the result.
package auth
