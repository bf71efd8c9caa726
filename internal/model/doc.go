// Package model defines the data types shared by the chat subsystem.
//
// Conventions:
//   - Messages are value types; slices handed out by other packages are copies.
//   - Timestamps are time.Time, encoded on the wire as RFC 3339 (`sentAt`).
//   - Exactly one ConnectionState exists per session and only the connection
//     manager moves it.
package model
