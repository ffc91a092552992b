package ber

import "time"

// Sizing limits applied by the node reader and session buffers.
const (
	// MaxPayloadSizeAllowed is the default ceiling on a single definite-length
	// primitive payload.
	MaxPayloadSizeAllowed = 128 << 20 // 128 MiB

	// ReceiveBufferLength is the default per-session input buffer size.
	ReceiveBufferLength = 128 << 10 // 128 KiB
)

// Default connection timings.
const (
	ConnectTimeout    = 5000 * time.Millisecond
	KeepAliveTime     = 14 * time.Minute
	KeepAliveInterval = 7 * time.Minute
)
