// Package tgui provides small Telegram formatting helpers:
//   - Safe HTML building for ParseMode="HTML" (auto escaping)
//   - Text truncation for captions and JSON dumps
//
// Design goals:
//   - Safe by default: raw strings never reach Telegram unescaped
//   - Small surface; the bridge only sends notification cards
package tgui
