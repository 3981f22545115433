// Package relay turns stateless webhook updates into the cohort/broadcast dialogue.
//
// Classify reduces a Telegram update to one Event. Machine applies the dialogue
// rules against persisted state: cohort self-registration for everyone, and for
// admins a two-step broadcast (pick a target, then send the text). Dispatcher is
// the entry point used by the webhook: it dedups, classifies and runs Machine,
// and never lets an error or panic escape.
//
// No dialogue state lives in process memory. Pending broadcasts are storage
// sessions consumed with an atomic take, so redelivered or concurrent updates
// cannot fan out twice.
package relay
