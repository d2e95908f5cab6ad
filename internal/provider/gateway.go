package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/shelfarr/shelfarr/internal/fetch"
	"github.com/shelfarr/shelfarr/internal/models"
)

// ErrNoProviders is returned when the gateway has no registered providers.
var ErrNoProviders = errors.New("no providers registered")

// ErrAllProvidersFailed is returned when every provider failed or was
// skipped by its circuit breaker.
var ErrAllProvidersFailed = errors.New("all providers failed")

// registered bundles a provider with its gate state.
type registered struct {
	provider Provider
	limiter  *rate.Limiter
	breaker  *fetch.CircuitBreaker
}

// Gateway fans requests out to providers in trust order. Each provider sits
// behind its own rate limiter and circuit breaker so one slow or failing
// provider cannot starve the others.
type Gateway struct {
	providers []*registered
	byName    map[string]*registered
	logger    *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger for the gateway.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway creates an empty Gateway.
func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{
		byName: make(map[string]*registered),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds a provider behind the given rate limit and breaker settings.
// Registration order is the trust order used for identification.
func (g *Gateway) Register(p Provider, ratePerSec float64, burst int, breaker *fetch.CircuitBreaker) error {
	name := p.Name()
	if _, exists := g.byName[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}

	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if breaker == nil {
		breaker = fetch.NewCircuitBreaker(fetch.DefaultBreakerThreshold, fetch.DefaultBreakerTimeout, 1)
	}

	r := &registered{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		breaker:  breaker,
	}
	g.providers = append(g.providers, r)
	g.byName[name] = r
	return nil
}

// Names returns the registered provider names in trust order.
func (g *Gateway) Names() []string {
	names := make([]string, len(g.providers))
	for i, r := range g.providers {
		names[i] = r.provider.Name()
	}
	return names
}

// BreakerStats returns the circuit breaker snapshot per provider.
func (g *Gateway) BreakerStats() map[string]fetch.BreakerStats {
	stats := make(map[string]fetch.BreakerStats, len(g.providers))
	for _, r := range g.providers {
		stats[r.provider.Name()] = r.breaker.Stats()
	}
	return stats
}

// gate waits for the provider's rate limiter and checks its breaker.
// Returns false if the breaker refused the request.
func (g *Gateway) gate(ctx context.Context, r *registered) (bool, error) {
	if !r.breaker.Allow() {
		g.logger.Debug("provider circuit open, skipping",
			slog.String("provider", r.provider.Name()),
		)
		return false, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// record feeds the call outcome into the provider's breaker. Not-found is a
// normal answer and counts as success.
func (r *registered) record(err error) {
	if err == nil || IsNotFound(err) {
		r.breaker.RecordSuccess()
		return
	}
	r.breaker.RecordFailure()
}

// Identify asks providers in trust order until one returns a confident
// match. Providers with open circuits are skipped. Returns the first match
// together with the provider that made it.
func (g *Gateway) Identify(ctx context.Context, ref EntityRef) (*Metadata, string, error) {
	if len(g.providers) == 0 {
		return nil, "", ErrNoProviders
	}

	var lastErr error
	for _, r := range g.providers {
		ok, err := g.gate(ctx, r)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}

		meta, err := r.provider.Identify(ctx, ref)
		r.record(err)

		if err != nil {
			if IsNotFound(err) {
				g.logger.Debug("provider has no match",
					slog.String("provider", r.provider.Name()),
					slog.String("title", ref.Title),
				)
				continue
			}
			lastErr = err
			g.logger.Warn("provider identify failed",
				slog.String("provider", r.provider.Name()),
				slog.String("title", ref.Title),
				slog.String("error", err.Error()),
			)
			continue
		}

		return meta, r.provider.Name(), nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, "", NewError("gateway", ErrorKindNotFound, fmt.Errorf("no provider matched %q", ref.Title))
}

// CandidateSet is the aggregate result of a candidate fan-out.
type CandidateSet struct {
	// Candidates holds all offered assets, tagged with their provider, in
	// provider trust order then provider-reported order.
	Candidates []ProviderCandidate

	// Failed lists providers that errored or were skipped.
	Failed []string
}

// ProviderCandidate tags a candidate with the provider that offered it.
type ProviderCandidate struct {
	Candidate
	Provider string
}

// Candidates fans out to every registered provider and aggregates their
// asset offers. Providers with open circuits or errors are recorded in
// Failed; the call only errors when every provider failed.
func (g *Gateway) Candidates(ctx context.Context, ref EntityRef, assetTypes []models.AssetType) (*CandidateSet, error) {
	if len(g.providers) == 0 {
		return nil, ErrNoProviders
	}

	set := &CandidateSet{}
	var succeeded int

	for _, r := range g.providers {
		if err := ctx.Err(); err != nil {
			return set, err
		}

		ok, err := g.gate(ctx, r)
		if err != nil {
			return set, err
		}
		if !ok {
			set.Failed = append(set.Failed, r.provider.Name())
			continue
		}

		candidates, err := r.provider.Candidates(ctx, ref, assetTypes)
		r.record(err)

		if err != nil && !IsNotFound(err) {
			g.logger.Warn("provider candidates failed",
				slog.String("provider", r.provider.Name()),
				slog.String("title", ref.Title),
				slog.String("error", err.Error()),
			)
			set.Failed = append(set.Failed, r.provider.Name())
			continue
		}

		succeeded++
		for _, c := range candidates {
			set.Candidates = append(set.Candidates, ProviderCandidate{
				Candidate: c,
				Provider:  r.provider.Name(),
			})
		}
	}

	if succeeded == 0 {
		return set, ErrAllProvidersFailed
	}
	return set, nil
}
