package config

// RedactedConfig returns a deep-enough copy of cfg with sensitive fields
// replaced by "***". Use this when logging or printing the active
// configuration so secrets are never exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Exchanges map is shared by the shallow copy; rebuild it with redacted
	// credentials.
	out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		redact(&ex.APIKey)
		redact(&ex.APISecret)
		redact(&ex.SecretPassword)
		out.Exchanges[name] = ex
	}

	redact(&out.Redis.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Kafka.Brokers != nil {
		out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	}
	if cfg.Feed.StartPrices != nil {
		out.Feed.StartPrices = make(map[string]float64, len(cfg.Feed.StartPrices))
		for k, v := range cfg.Feed.StartPrices {
			out.Feed.StartPrices[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redaction placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
