// Package model defines the update values carried over the notification channel.
//
// Conventions:
//   - Kinds: snake_case strings exactly as the publisher writes them
//   - Timestamps: time.Time in UTC, parsed from ISO-8601 / RFC 3339 text
//   - Payloads: kept as raw JSON and decoded on demand with Update.Decode
package model
