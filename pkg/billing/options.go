package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

type common struct {
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	callTimeout time.Duration
}

func defaultCommon() common {
	return common{
		logger: slog.Default(),
		now:    time.Now,
	}
}

func (c common) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// writeOutcome classifies a best-effort write.
type writeOutcome int

const (
	writeApplied writeOutcome = iota
	// stale, unmatched or duplicate; expected under redelivery and reordering
	writeSkipped
	writeFailed
)

// settled reports whether no write failed downstream. Skipped writes
// count as settled since a redelivery would be skipped again.
func settled(outcomes ...writeOutcome) bool {
	for _, o := range outcomes {
		if o == writeFailed {
			return false
		}
	}
	return true
}

// report logs the outcome of a best-effort write and classifies it.
func (c common) report(ctx context.Context, op string, err error, attrs ...slog.Attr) writeOutcome {
	if err == nil {
		return writeApplied
	}
	attrs = append(attrs, logger.Operation(op), logger.Error(err))
	switch {
	case errors.Is(err, ErrStaleEvent):
		c.logger.LogAttrs(ctx, slog.LevelWarn, "skipped stale write", attrs...)
	case errors.Is(err, ErrNoRecordMatched):
		c.logger.LogAttrs(ctx, slog.LevelWarn, "write matched no record", attrs...)
	case errors.Is(err, ErrDuplicateRecord):
		c.logger.LogAttrs(ctx, slog.LevelInfo, "record already exists", attrs...)
	default:
		c.metrics.storeWriteFailed(op)
		c.logger.LogAttrs(ctx, slog.LevelError, "downstream write failed", attrs...)
		return writeFailed
	}
	return writeSkipped
}

// IntakeOption configures an Intake instance.
type IntakeOption func(*Intake)

// WithIntakeLogger sets the logger. Nil loggers are ignored.
func WithIntakeLogger(l *slog.Logger) IntakeOption {
	return func(in *Intake) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithIntakeMetrics records event outcomes and store write failures.
func WithIntakeMetrics(m *Metrics) IntakeOption {
	return func(in *Intake) { in.metrics = m }
}

// WithEventLedger enables duplicate-delivery detection by event id.
func WithEventLedger(l EventLedger) IntakeOption {
	return func(in *Intake) { in.ledger = l }
}

// WithAlertNotifier forwards every created alert to n.
func WithAlertNotifier(n AlertNotifier) IntakeOption {
	return func(in *Intake) { in.notifier = n }
}

// WithIntakeClock overrides the time source used for updated_at stamps.
func WithIntakeClock(now func() time.Time) IntakeOption {
	return func(in *Intake) {
		if now != nil {
			in.now = now
		}
	}
}

// WithIntakeCallTimeout bounds each record store call. Zero disables the bound.
func WithIntakeCallTimeout(d time.Duration) IntakeOption {
	return func(in *Intake) {
		if d > 0 {
			in.callTimeout = d
		}
	}
}

// ProvisionerOption configures a Provisioner instance.
type ProvisionerOption func(*Provisioner)

// WithProvisionerLogger sets the logger. Nil loggers are ignored.
func WithProvisionerLogger(l *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProvisionerMetrics records checkout outcomes and compensation failures.
func WithProvisionerMetrics(m *Metrics) ProvisionerOption {
	return func(p *Provisioner) { p.metrics = m }
}

// WithProvisionerClock overrides the time source used for record stamps.
func WithProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithProvisionerCallTimeout bounds each provider and record store call.
// Zero disables the bound.
func WithProvisionerCallTimeout(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}
