// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Conversion from platform-neutral transport keyboards to telebot markup
package tgui
