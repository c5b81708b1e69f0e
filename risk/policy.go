package risk

// Policy holds the tunables of the trailing ratchet and the re-entry
// trigger. Zero values are replaced by DefaultPolicy's in New.
type Policy struct {
	// Seed values for a key with no stored state.
	DefaultThreshold    float64 // 0.10
	DefaultProfitTarget float64 // 0.01

	// Added to threshold and profit target after each successful ratchet.
	BreathThreshold float64 // 0.10
	BreathStop      float64 // 0.10

	// Re-entry fires when mark has covered this fraction of the way from
	// entry to liquidation.
	ReentryCloseness float64 // 0.80

	TrailingEnabled bool
	ReentryEnabled  bool

	// RearmOnCancel re-places an externally canceled stop at the stored
	// price on the same tick instead of waiting for the next ratchet.
	RearmOnCancel bool

	// Quote limits LoadMarkets to instruments quoted or settled in this
	// currency. Empty keeps everything.
	Quote string
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultThreshold:    0.10,
		DefaultProfitTarget: 0.01,
		BreathThreshold:     0.10,
		BreathStop:          0.10,
		ReentryCloseness:    0.80,
		TrailingEnabled:     true,
		ReentryEnabled:      true,
		Quote:               "USDT",
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.DefaultThreshold <= 0 {
		p.DefaultThreshold = d.DefaultThreshold
	}
	if p.DefaultProfitTarget <= 0 {
		p.DefaultProfitTarget = d.DefaultProfitTarget
	}
	if p.BreathThreshold < 0 {
		p.BreathThreshold = 0
	}
	if p.BreathStop < 0 {
		p.BreathStop = 0
	}
	if p.ReentryCloseness <= 0 {
		p.ReentryCloseness = d.ReentryCloseness
	}
	return p
}
