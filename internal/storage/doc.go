// Package storage is the relay's persistence layer.
//
// It keeps four kinds of records:
//   - cohort records (employees): one per chat, overwritten on re-selection
//   - broadcast sessions (admin_sessions): one per admin, consumed atomically
//   - dedup keys for redelivered webhook updates
//   - an append-only audit log of broadcasts
//
// The supabase driver needs only employees and admin_sessions(chat_id,
// awaiting_broadcast_type). Session expiry, update dedup and the audit log
// need the objects in supabase/migrations.sql; without them the driver turns
// those features off and logs a warning.
package storage
