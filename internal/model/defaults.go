package model

import "time"

// Shared defaults used by the engines, the servers and the CLI.
const (
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultStartOffset     = 10 * time.Second
	DefaultJournalDir      = "/var/log/journal"
	DefaultTailBuffer      = 1000
	DefaultDiscoverWorkers = 1
)
