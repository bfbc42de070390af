package model

import "time"

// TailConfig parameterises a live tail of one host/unit pair.
type TailConfig struct {
	Hostname string
	Unit     string
	Location Location

	// PollInterval is the sleep between polls when no entry is available.
	// Values <= 0 fall back to DefaultPollInterval.
	PollInterval time.Duration

	// StartOffset is how far before "now" the tail begins. Zero means only
	// entries appended after the tail opens.
	StartOffset time.Duration
}

// NewTailConfig returns a TailConfig with the default poll interval and
// start offset.
func NewTailConfig(hostname, unit string, loc Location) TailConfig {
	return TailConfig{
		Hostname:     hostname,
		Unit:         unit,
		Location:     loc,
		PollInterval: DefaultPollInterval,
		StartOffset:  DefaultStartOffset,
	}
}

func (c TailConfig) WithPollInterval(d time.Duration) TailConfig {
	c.PollInterval = d
	return c
}

func (c TailConfig) WithStartOffset(d time.Duration) TailConfig {
	if d < 0 {
		d = 0
	}
	c.StartOffset = d
	return c
}

// EffectivePollInterval returns PollInterval, or the default when unset.
func (c TailConfig) EffectivePollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return c.PollInterval
}
