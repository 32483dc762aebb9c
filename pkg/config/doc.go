// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv for .env files and
// github.com/caarlos0/env/v11 for struct parsing:
//
//	type ServerConfig struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	if err := config.LoadEnv(); err != nil {
//		return err
//	}
//	var cfg ServerConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// There is no process-wide cache. Load once at startup and pass the values
// to the components that need them.
package config
