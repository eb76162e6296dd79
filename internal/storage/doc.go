package storage

// Package storage provides the optional durability layer of the bridge.
//
// It currently supports:
//   - Dedup marks (so at-most-once survives restarts)
//   - Forwarded post records (which media has already reached Telegram)
