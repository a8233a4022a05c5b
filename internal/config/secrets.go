package config

const redacted = "***"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Marketplace.SecretKey)
	redact(&out.Marketplace.KeyPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices and maps are copied so the redacted value cannot alias cfg.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Scans != nil {
		out.Scans = make([]ScanConfig, len(cfg.Scans))
		for i, sc := range cfg.Scans {
			out.Scans[i] = sc
			if sc.Filter != nil {
				out.Scans[i].Filter = make(map[string]any, len(sc.Filter))
				for k, v := range sc.Filter {
					out.Scans[i].Filter[k] = v
				}
			}
		}
	}

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
