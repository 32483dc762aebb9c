package billing

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Tier is a plan tier offered at checkout.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Period is the billing period of a plan. Values match the provider's
// recurring interval names.
type Period string

const (
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Tiers lists every known tier in display order.
var Tiers = []Tier{TierBasic, TierProfessional, TierEnterprise}

// Periods lists every known billing period in display order.
var Periods = []Period{PeriodMonth, PeriodYear}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return slices.Contains(Tiers, t) }

// Valid reports whether p is a known billing period.
func (p Period) Valid() bool { return slices.Contains(Periods, p) }

const (
	// Unlimited marks a usage limit without a ceiling (-1 chosen for SQL compatibility).
	Unlimited int64 = -1

	// DefaultCurrency is used for every built-in plan.
	DefaultCurrency = "USD"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $99.00 USD is Amount: 9900, Currency: "USD".
type Money struct {
	Amount   int64
	Currency string
}

// Major returns the amount in major currency units (99.00 for 9900).
func (m Money) Major() float64 {
	return float64(m.Amount) / 100
}

// Limits holds the numeric usage limits of a plan.
type Limits struct {
	OSINTQueries int64 `json:"osintQueries" yaml:"osintQueries"`
	AIAnalysis   int64 `json:"aiAnalysis" yaml:"aiAnalysis"`
	CameraFeeds  int64 `json:"cameraFeeds" yaml:"cameraFeeds"`
	Users        int64 `json:"users" yaml:"users"`
}

func (l Limits) validate() error {
	for name, v := range map[string]int64{
		"osintQueries": l.OSINTQueries,
		"aiAnalysis":   l.AIAnalysis,
		"cameraFeeds":  l.CameraFeeds,
		"users":        l.Users,
	} {
		if v < Unlimited {
			return fmt.Errorf("limit %s must be >= %d, got %d", name, Unlimited, v)
		}
	}
	return nil
}

// PlanConfig is the immutable configuration of one (tier, period) pair.
type PlanConfig struct {
	Tier     Tier
	Period   Period
	Name     string
	Price    Money
	Features []string
	Limits   Limits
}

// MarshalJSON renders the plan the way checkout clients expect it:
// price in major units, limits keyed by their camelCase names.
func (p PlanConfig) MarshalJSON() ([]byte, error) {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return json.Marshal(struct {
		Name     string   `json:"name"`
		Price    float64  `json:"price"`
		Currency string   `json:"currency"`
		Interval Period   `json:"interval"`
		Features []string `json:"features"`
		Limits   Limits   `json:"limits"`
	}{
		Name:     p.Name,
		Price:    p.Price.Major(),
		Currency: p.Price.Currency,
		Interval: p.Period,
		Features: features,
		Limits:   p.Limits,
	})
}

func (p PlanConfig) clone() PlanConfig {
	p.Features = slices.Clone(p.Features)
	return p
}

func (p PlanConfig) validate() error {
	if p.Name == "" {
		return fmt.Errorf("plan %s/%s has no name", p.Tier, p.Period)
	}
	if p.Price.Amount <= 0 {
		return fmt.Errorf("plan %s/%s must have a positive price", p.Tier, p.Period)
	}
	if len(p.Price.Currency) != 3 {
		return fmt.Errorf("plan %s/%s has invalid currency %q", p.Tier, p.Period, p.Price.Currency)
	}
	if err := p.Limits.validate(); err != nil {
		return fmt.Errorf("plan %s/%s: %w", p.Tier, p.Period, err)
	}
	return nil
}

// Catalog maps (tier, period) pairs to plan configuration.
// A Catalog is treated as immutable once loaded.
type Catalog map[Tier]map[Period]PlanConfig

// Lookup returns the plan for the given tier and period.
// Returns an error wrapping ErrInvalidPlan that names the requested pair.
func (c Catalog) Lookup(tier Tier, period Period) (PlanConfig, error) {
	if byPeriod, ok := c[tier]; ok {
		if plan, ok := byPeriod[period]; ok {
			return plan.clone(), nil
		}
	}
	return PlanConfig{}, fmt.Errorf("%w: %s/%s", ErrInvalidPlan, tier, period)
}

// Plans returns every configured plan ordered by tier, then period.
func (c Catalog) Plans() []PlanConfig {
	out := make([]PlanConfig, 0, len(Tiers)*len(Periods))
	for _, tier := range Tiers {
		for _, period := range Periods {
			if plan, ok := c[tier][period]; ok {
				out = append(out, plan.clone())
			}
		}
	}
	return out
}

// Validate checks that every entry is keyed consistently and well formed.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: catalog is empty", ErrInvalidCatalog)
	}
	for tier, byPeriod := range c {
		if !tier.Valid() {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidCatalog, tier)
		}
		for period, plan := range byPeriod {
			if !period.Valid() {
				return fmt.Errorf("%w: unknown period %q for tier %s", ErrInvalidCatalog, period, tier)
			}
			if plan.Tier != tier || plan.Period != period {
				return fmt.Errorf("%w: plan keyed %s/%s declares %s/%s",
					ErrInvalidCatalog, tier, period, plan.Tier, plan.Period)
			}
			if err := plan.validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
			}
		}
	}
	return nil
}

// DefaultCatalog returns the built-in plan catalog.
func DefaultCatalog() Catalog {
	basic := []string{
		"100 OSINT queries/month",
		"10 AI analyses/month",
		"5 camera feeds",
		"Up to 5 users",
		"Email support",
	}
	professional := []string{
		"1,000 OSINT queries/month",
		"100 AI analyses/month",
		"20 camera feeds",
		"Up to 25 users",
		"Real-time alerts",
		"API access",
		"Priority support",
	}
	enterprise := []string{
		"10,000 OSINT queries/month",
		"Unlimited AI analysis",
		"50+ camera feeds",
		"Unlimited users",
		"Instant alerts",
		"Full API",
		"Custom integrations",
		"24/7 support",
		"Dedicated manager",
	}

	basicLimits := Limits{OSINTQueries: 100, AIAnalysis: 10, CameraFeeds: 5, Users: 5}
	professionalLimits := Limits{OSINTQueries: 1000, AIAnalysis: 100, CameraFeeds: 20, Users: 25}
	enterpriseLimits := Limits{OSINTQueries: 10000, AIAnalysis: Unlimited, CameraFeeds: 50, Users: Unlimited}

	return Catalog{
		TierBasic: {
			PeriodMonth: plan(TierBasic, PeriodMonth, 9900, basic, basicLimits),
			PeriodYear:  plan(TierBasic, PeriodYear, 99000, basic, basicLimits),
		},
		TierProfessional: {
			PeriodMonth: plan(TierProfessional, PeriodMonth, 29900, professional, professionalLimits),
			PeriodYear:  plan(TierProfessional, PeriodYear, 299000, professional, professionalLimits),
		},
		TierEnterprise: {
			PeriodMonth: plan(TierEnterprise, PeriodMonth, 99900, enterprise, enterpriseLimits),
			PeriodYear:  plan(TierEnterprise, PeriodYear, 999000, enterprise, enterpriseLimits),
		},
	}
}

func plan(tier Tier, period Period, cents int64, features []string, limits Limits) PlanConfig {
	features = slices.Clone(features)
	if period == PeriodYear {
		features = append(features, "2 months free")
	}
	return PlanConfig{
		Tier:     tier,
		Period:   period,
		Name:     planName(tier, period),
		Price:    Money{Amount: cents, Currency: DefaultCurrency},
		Features: features,
		Limits:   limits,
	}
}

func planName(tier Tier, period Period) string {
	suffix := "Monthly"
	if period == PeriodYear {
		suffix = "Yearly"
	}
	t := string(tier)
	if t != "" {
		t = strings.ToUpper(t[:1]) + t[1:]
	}
	return "TAVIT " + t + " " + suffix
}
