package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Datastore.DSN)
	redact(&out.Datastore.Password)
	redact(&out.Redis.Password)
	redact(&out.Auth.SessionSecret)
	redact(&out.Auth.ChannelSecret)
	redact(&out.Auth.Token)
	redact(&out.Journal.AccessKey)
	redact(&out.Journal.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	out.Stream.Channels = copySlice(cfg.Stream.Channels)
	out.Market.Symbols = copySlice(cfg.Market.Symbols)
	out.Server.CORSOrigins = copySlice(cfg.Server.CORSOrigins)
	out.Notify.Events = copySlice(cfg.Notify.Events)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}

func copySlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
