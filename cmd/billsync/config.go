package main

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/billsync/pkg/billing"
	"github.com/dmitrymomot/billsync/pkg/email"
	"github.com/dmitrymomot/billsync/pkg/httpserver"
)

// Store drivers.
const (
	storePostgres = "postgres"
	storeMongo    = "mongo"
	storeMemory   = "memory"
)

// Event ledger backends.
const (
	ledgerNone   = "none"
	ledgerMemory = "memory"
	ledgerRedis  = "redis"
)

// Config is the process configuration. It is loaded once in main and
// handed to constructors; nothing else reads the environment.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"billsync"`
	LogLevel    string `env:"LOG_LEVEL"`

	StoreDriver     string `env:"STORE_DRIVER" envDefault:"postgres"`
	PlanCatalogFile string `env:"PLAN_CATALOG_FILE"`

	DownstreamTimeout time.Duration `env:"DOWNSTREAM_TIMEOUT" envDefault:"10s"`

	EventLedger     string        `env:"EVENT_LEDGER" envDefault:"memory"`
	EventLedgerTTL  time.Duration `env:"EVENT_LEDGER_TTL" envDefault:"72h"`
	EventLedgerSize int           `env:"EVENT_LEDGER_SIZE" envDefault:"10000"`

	AlertEmailTo    string `env:"ALERT_EMAIL_TO"`
	CORSAllowOrigin string `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`

	Stripe billing.StripeConfig
	HTTP   httpserver.Config
	Email  email.Config
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case storePostgres, storeMongo, storeMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.EventLedger {
	case ledgerNone, ledgerMemory, ledgerRedis:
	default:
		return fmt.Errorf("unknown EVENT_LEDGER %q", c.EventLedger)
	}
	if c.EventLedger == ledgerMemory && c.EventLedgerSize <= 0 {
		return fmt.Errorf("EVENT_LEDGER_SIZE must be positive, got %d", c.EventLedgerSize)
	}
	return nil
}
