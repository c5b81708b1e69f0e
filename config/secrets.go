package config

const redacted = "***"

// Redacted returns a copy with credentials masked, for logging and the
// config validate command.
func (c *Config) Redacted() Config {
	out := *c
	redact(&out.Exchange.APIKey)
	redact(&out.Exchange.APISecret)
	redact(&out.State.DSN)
	redact(&out.State.Redis.Password)

	out.Paper.Markets = append([]PaperMarket(nil), c.Paper.Markets...)
	out.Paper.Positions = append([]PaperPosition(nil), c.Paper.Positions...)
	out.Paper.Steps = append([]map[string]float64(nil), c.Paper.Steps...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
