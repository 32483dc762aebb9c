package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogSource defines how the plan catalog is loaded at startup.
type CatalogSource interface {
	Load(ctx context.Context) (Catalog, error)
}

// LoadCatalog loads and validates a catalog from src.
func LoadCatalog(ctx context.Context, src CatalogSource) (Catalog, error) {
	if src == nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, errors.New("nil catalog source"))
	}
	catalog, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

type staticSource struct {
	catalog Catalog
}

// NewStaticSource returns a source serving a deep copy of catalog.
func NewStaticSource(catalog Catalog) CatalogSource {
	return &staticSource{catalog: cloneCatalog(catalog)}
}

func (s *staticSource) Load(context.Context) (Catalog, error) {
	return cloneCatalog(s.catalog), nil
}

func cloneCatalog(c Catalog) Catalog {
	out := make(Catalog, len(c))
	for tier, byPeriod := range c {
		out[tier] = make(map[Period]PlanConfig, len(byPeriod))
		for period, p := range byPeriod {
			out[tier][period] = p.clone()
		}
	}
	return out
}

// yamlPlan is the on-disk shape of one plan. Price is in major units.
type yamlPlan struct {
	Name     string   `yaml:"name"`
	Price    float64  `yaml:"price"`
	Currency string   `yaml:"currency"`
	Features []string `yaml:"features"`
	Limits   Limits   `yaml:"limits"`
}

type yamlCatalogSource struct {
	path string
}

// NewYAMLCatalogSource reads the catalog from a YAML file keyed by tier, then period:
//
//	basic:
//	  month:
//	    name: Basic Monthly
//	    price: 99.00
//	    currency: USD
//	    features: ["Email support"]
//	    limits: {osintQueries: 100, aiAnalysis: 10, cameraFeeds: 5, users: 5}
func NewYAMLCatalogSource(path string) CatalogSource {
	return &yamlCatalogSource{path: path}
}

func (s *yamlCatalogSource) Load(context.Context) (Catalog, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	return ParseCatalogYAML(f)
}

// ParseCatalogYAML decodes a YAML catalog document.
func ParseCatalogYAML(r io.Reader) (Catalog, error) {
	var doc map[string]map[string]yamlPlan
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}

	catalog := make(Catalog, len(doc))
	for rawTier, byPeriod := range doc {
		tier := Tier(strings.ToLower(rawTier))
		catalog[tier] = make(map[Period]PlanConfig, len(byPeriod))
		for rawPeriod, p := range byPeriod {
			period := Period(strings.ToLower(rawPeriod))
			currency := strings.ToUpper(p.Currency)
			if currency == "" {
				currency = DefaultCurrency
			}
			catalog[tier][period] = PlanConfig{
				Tier:     tier,
				Period:   period,
				Name:     p.Name,
				Price:    Money{Amount: int64(math.Round(p.Price * 100)), Currency: currency},
				Features: p.Features,
				Limits:   p.Limits,
			}
		}
	}
	return catalog, nil
}
