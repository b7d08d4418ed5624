// Package baseline supplies population-average feature snapshots for requests that carry no
// patient-specific baseline.
package baseline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/domain"
)

// Provider returns the population-average snapshot for a disease. Returned snapshots are tagged
// with domain.BaselinePopulation.
type Provider interface {
	PopulationBaseline(ctx context.Context, disease string) (*domain.FeatureSnapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, disease string) (*domain.FeatureSnapshot, error)

// PopulationBaseline implements Provider.
func (f ProviderFunc) PopulationBaseline(ctx context.Context, disease string) (*domain.FeatureSnapshot, error) {
	return f(ctx, disease)
}

// defaultKey is the StaticProvider entry used for diseases without their own averages.
const defaultKey = "default"

// StaticProvider serves built-in cohort averages.
type StaticProvider struct {
	averages map[string]map[string]float64
}

// NewStaticProvider creates a provider over the built-in averages.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{averages: DefaultAverages()}
}

// NewStaticProviderWith creates a provider over the given averages, keyed by normalized disease.
// A "default" entry is used for diseases that have none.
func NewStaticProviderWith(averages map[string]map[string]float64) *StaticProvider {
	copied := make(map[string]map[string]float64, len(averages))
	for disease, values := range averages {
		copied[domain.NormalizeDisease(disease)] = values
	}
	return &StaticProvider{averages: copied}
}

// DefaultAverages returns the built-in population averages.
func DefaultAverages() map[string]map[string]float64 {
	return map[string]map[string]float64{
		domain.DiseaseOvarian: {
			domain.FeatureDNARepairCapacity:   0.50,
			domain.FeaturePathwayBurdenDDR:    0.45,
			domain.FeatureEssentialityHRR:     0.40,
			domain.FeatureExonDisruptionScore: 0.35,
		},
		domain.DiseaseMyeloma: {
			domain.FeatureDNARepairCapacity: 0.55,
			domain.FeaturePathwayBurdenDDR:  0.40,
		},
		defaultKey: {
			domain.FeatureDNARepairCapacity: 0.50,
		},
	}
}

// PopulationBaseline implements Provider.
func (p *StaticProvider) PopulationBaseline(ctx context.Context, disease string) (*domain.FeatureSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, ok := p.averages[domain.NormalizeDisease(disease)]
	if !ok {
		values, ok = p.averages[defaultKey]
	}
	if !ok {
		return nil, fmt.Errorf("no population baseline for disease %q: %w", disease, domain.ErrNotFound)
	}
	return domain.NewFeatureSnapshot(values, domain.BaselinePopulation), nil
}

// FallbackProvider asks the primary provider first and falls back to the secondary on any error.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *logrus.Logger
}

// NewFallbackProvider creates a provider chain.
func NewFallbackProvider(primary, secondary Provider, logger *logrus.Logger) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary, logger: logger}
}

// PopulationBaseline implements Provider.
func (p *FallbackProvider) PopulationBaseline(ctx context.Context, disease string) (*domain.FeatureSnapshot, error) {
	snapshot, err := p.primary.PopulationBaseline(ctx, disease)
	if err == nil {
		return snapshot, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.logger.WithFields(logrus.Fields{
		"disease": disease,
	}).WithError(err).Debug("Primary baseline provider failed, using fallback")

	return p.secondary.PopulationBaseline(ctx, disease)
}
