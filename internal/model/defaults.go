package model

import "time"

// Shared defaults used by the server, the CLI, and the invocation handler.
const (
	DefaultChunkSize      = 64 * 1024
	DefaultBatchSize      = 1000
	DefaultGracePeriod    = 60 * time.Second
	DefaultInvokeDeadline = 15 * time.Minute
	DefaultNamespace      = "default"
	DefaultDataset        = "generic"
)
