package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/iotquery/iotquery/internal/observability"
)

// maxSessionHistory bounds the attempts a Session remembers.
const maxSessionHistory = 32

// Attempt is one provider call as remembered by a Session. Manual marks a
// switch requested by an operator rather than a generation call.
type Attempt struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	Manual   bool   `json:"manual,omitempty"`
}

// SelectProvider returns the order in which providers are tried. The most
// recently successful provider in history goes first; the rest follow in
// priority order. Providers absent from priority are never returned.
func SelectProvider(history []Attempt, priority []string) []string {
	order := make([]string, 0, len(priority))
	preferred := ""
	for i := len(history) - 1; i >= 0 && preferred == ""; i-- {
		if !history[i].Success {
			continue
		}
		for _, name := range priority {
			if name == history[i].Provider {
				preferred = name
				break
			}
		}
	}
	if preferred != "" {
		order = append(order, preferred)
	}
	for _, name := range priority {
		if name != preferred {
			order = append(order, name)
		}
	}
	return order
}

// Chain is an immutable set of providers in priority order.
type Chain struct {
	providers map[string]Provider
	priority  []string
	logger    *slog.Logger
}

// NewChain keeps providers in the given order. Nil providers are skipped so
// callers can pass optional generators directly.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	chain := &Chain{providers: map[string]Provider{}, logger: logger}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := provider.Name()
		if _, exists := chain.providers[name]; exists {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		chain.providers[name] = provider
		chain.priority = append(chain.priority, name)
	}
	if len(chain.priority) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	return chain, nil
}

// Priority returns provider names in configured order.
func (c *Chain) Priority() []string {
	return append([]string(nil), c.priority...)
}

// Session carries the sticky provider preference for one caller. It is not
// safe for concurrent use.
type Session struct {
	chain   *Chain
	history []Attempt
	health  map[string]ProviderHealth
}

func NewSession(chain *Chain) *Session {
	return &Session{chain: chain}
}

// History returns a copy of the remembered attempts, oldest first.
func (s *Session) History() []Attempt {
	return append([]Attempt(nil), s.history...)
}

// Preferred is the provider the next call tries first.
func (s *Session) Preferred() string {
	order := SelectProvider(s.history, s.chain.priority)
	if len(order) == 0 {
		return ""
	}
	return order[0]
}

// GenerateSQL tries providers in SelectProvider order and returns the first
// success. When all fail the joined error wraps ErrGeneration.
func (s *Session) GenerateSQL(ctx context.Context, req Request) (Result, error) {
	var errs []error
	for i, name := range SelectProvider(s.history, s.chain.priority) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if i > 0 {
			s.chain.logger.InfoContext(ctx, "trying fallback provider", slog.String("provider", name))
		}
		result, err := s.chain.providers[name].GenerateSQL(ctx, req)
		s.remember(Attempt{Provider: name, Success: err == nil})
		observability.ObserveGeneratorAttempt(name, err == nil)
		if err == nil {
			return result, nil
		}
		s.chain.logger.WarnContext(ctx, "provider failed",
			slog.String("provider", name),
			slog.Any("error", err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return Result{}, fmt.Errorf("%w: all providers failed: %w", ErrGeneration, errors.Join(errs...))
}

func (s *Session) remember(attempt Attempt) {
	s.history = append(s.history, attempt)
	if len(s.history) > maxSessionHistory {
		s.history = append([]Attempt(nil), s.history[len(s.history)-maxSessionHistory:]...)
	}
}

// ParsePriority splits a comma-separated provider list, dropping blanks and
// duplicates.
func ParsePriority(raw string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
