// Package logx configures the relay's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional Telegram sink forwards warnings to an operator chat (min-level + rate limit)
package logx
