package config

import "time"

// ConsensusOptions holds the configuration options the consensus core
// recognizes. All other options in Config are ignored by the core.
type ConsensusOptions struct {
	// NetworkQuorum is the minimum peer count to leave the Disconnected
	// operating mode.
	NetworkQuorum uint32

	// ValidationSeed is the signing seed for this node's validator key.
	// Its presence (non-empty) enables validating mode.
	ValidationSeed string

	// LedgerSeconds is the configured inter-close interval (15s when
	// unset). No rcl component reads it; rounds use rcl.LedgerIdleInterval.
	LedgerSeconds time.Duration

	// MinVotesForConsensus is carried from the configuration. No rcl
	// component reads it, ValidationCollection included.
	MinVotesForConsensus uint32
}

// ConsensusOptions extracts the core's recognized options from the full
// configuration.
func (c *Config) ConsensusOptions() ConsensusOptions {
	seconds := c.LedgerSeconds
	if seconds <= 0 {
		seconds = 15
	}

	return ConsensusOptions{
		NetworkQuorum:        c.NetworkQuorum,
		ValidationSeed:       c.ValidationSeed,
		LedgerSeconds:        time.Duration(seconds) * time.Second,
		MinVotesForConsensus: c.MinVotesForConsensus,
	}
}

// IsValidating reports whether a validation seed is configured.
func (o ConsensusOptions) IsValidating() bool {
	return o.ValidationSeed != ""
}
