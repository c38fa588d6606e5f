package research

import (
	"context"
	"sort"
	"sync"
)

// runUsage accumulates LLM spend for one pipeline run. A pointer travels in
// the run's context so every provider call inside the run lands in the same
// bucket regardless of which component made it.
type runUsage struct {
	mu     sync.Mutex
	cost   float64
	tokens int64
	tiers  map[string]struct{}
}

func (u *runUsage) add(cost float64, tokens int64, tier string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cost += cost
	u.tokens += tokens
	if u.tiers == nil {
		u.tiers = make(map[string]struct{})
	}
	u.tiers[tier] = struct{}{}
}

func (u *runUsage) snapshot() (float64, int64, []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	tiers := make([]string, 0, len(u.tiers))
	for t := range u.tiers {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	return u.cost, u.tokens, tiers
}

type usageKey struct{}

func withUsage(ctx context.Context) (context.Context, *runUsage) {
	u := &runUsage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

func usageFrom(ctx context.Context) *runUsage {
	u, _ := ctx.Value(usageKey{}).(*runUsage)
	return u
}

// meteredLLM wraps a provider and books every successful call against the
// run usage found in the call's context, if any.
type meteredLLM struct {
	inner LLMProvider
}

func (m meteredLLM) Generate(ctx context.Context, prompt, tier string, options map[string]interface{}) (string, error) {
	out, _, _, err := m.GenerateWithTokens(ctx, prompt, tier, options)
	return out, err
}

func (m meteredLLM) GenerateWithTokens(ctx context.Context, prompt, tier string, options map[string]interface{}) (string, int64, int64, error) {
	out, tokIn, tokOut, err := m.inner.GenerateWithTokens(ctx, prompt, tier, options)
	if err == nil {
		if u := usageFrom(ctx); u != nil {
			u.add(m.inner.CalculateCost(tokIn, tokOut, tier), tokIn+tokOut, tier)
		}
	}
	return out, tokIn, tokOut, err
}

func (m meteredLLM) CalculateCost(tokensIn, tokensOut int64, tier string) float64 {
	return m.inner.CalculateCost(tokensIn, tokensOut, tier)
}
