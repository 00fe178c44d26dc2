package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iotquery/iotquery/internal/observability"
)

// ProviderHealth is the outcome of one health check.
type ProviderHealth struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// CheckHealth checks every provider concurrently. Providers that do not
// implement HealthChecker are reported healthy.
func (c *Chain) CheckHealth(ctx context.Context) map[string]ProviderHealth {
	results := make([]ProviderHealth, len(c.priority))
	var group errgroup.Group
	for i, name := range c.priority {
		group.Go(func() error {
			results[i] = c.check(ctx, name)
			return nil
		})
	}
	_ = group.Wait()

	out := make(map[string]ProviderHealth, len(c.priority))
	for i, name := range c.priority {
		out[name] = results[i]
	}
	return out
}

func (c *Chain) check(ctx context.Context, name string) ProviderHealth {
	health := ProviderHealth{Healthy: true}
	if checker, ok := c.providers[name].(HealthChecker); ok {
		if err := checker.CheckHealth(ctx); err != nil {
			health.Healthy = false
			health.Error = err.Error()
			c.logger.WarnContext(ctx, "provider health check failed",
				slog.String("provider", name),
				slog.Any("error", err),
			)
		}
	}
	health.CheckedAt = time.Now().UTC()
	observability.SetGeneratorHealth(name, health.Healthy)
	return health
}

// CheckHealth checks every provider and keeps the results for Health.
func (s *Session) CheckHealth(ctx context.Context) map[string]ProviderHealth {
	results := s.chain.CheckHealth(ctx)
	if s.health == nil {
		s.health = make(map[string]ProviderHealth, len(results))
	}
	for name, health := range results {
		s.health[name] = health
	}
	return copyHealth(results)
}

// Health returns the last health check per provider. Providers never
// checked are absent.
func (s *Session) Health() map[string]ProviderHealth {
	return copyHealth(s.health)
}

// Switch makes name the preferred provider after a passing health check. The
// switch is recorded as a successful attempt, so later failures move the
// preference on as usual.
func (s *Session) Switch(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := s.chain.providers[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	health := s.chain.check(ctx, name)
	if s.health == nil {
		s.health = map[string]ProviderHealth{}
	}
	s.health[name] = health
	if !health.Healthy {
		return fmt.Errorf("%w: %s: %s", ErrProviderUnhealthy, name, health.Error)
	}
	s.remember(Attempt{Provider: name, Success: true, Manual: true})
	s.chain.logger.InfoContext(ctx, "switched provider", slog.String("provider", name))
	return nil
}

func copyHealth(in map[string]ProviderHealth) map[string]ProviderHealth {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]ProviderHealth, len(in))
	for name, health := range in {
		out[name] = health
	}
	return out
}
