package email

// Config holds alert mail configuration. Postmark tokens are optional so
// that development environments can fall back to the disk sender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"ALERT_EMAIL_FROM" envDefault:"billing@localhost.dev"`
	DevOutputDir         string `env:"ALERT_EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}

// PostmarkEnabled reports whether both Postmark tokens are configured.
func (c Config) PostmarkEnabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
