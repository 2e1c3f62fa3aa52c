package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Secrets become
// "***"; connection URLs keep their host so operators can still tell where
// the process connects. Slices are copied.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Server.APIKeyPassword,
		&out.Notify.TelegramToken,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Postgres.DSN = redactURL(out.Postgres.DSN, false)
	out.Notify.DiscordWebhookURL = redactURL(out.Notify.DiscordWebhookURL, true)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Server.WSChannels = slices.Clone(cfg.Server.WSChannels)
	return out
}

// redactURL masks the password in raw, or everything after the host when
// the path is itself a credential (webhook tokens). Anything unparseable is
// masked entirely.
func redactURL(raw string, maskPath bool) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if maskPath {
		return u.Scheme + "://" + u.Host + "/" + redacted
	}
	u.RawQuery = ""
	return u.Redacted()
}
