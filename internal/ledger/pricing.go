package ledger

import (
	"atlas_trader/internal/config"
	"atlas_trader/internal/domain"
	"context"
	"fmt"
	"sort"
)

// Priced actions
const (
	ActionChat     = "chat"
	ActionAnalysis = "analysis"
	ActionProposal = "proposal"
)

// Pricing maps each priced action to its token cost
type Pricing map[string]int64

// NewPricing builds the pricing table from configuration
func NewPricing(cfg config.TokenConfig) Pricing {
	return Pricing{
		ActionChat:     cfg.PriceChat,
		ActionAnalysis: cfg.PriceAnalysis,
		ActionProposal: cfg.PriceProposal,
	}
}

// Price returns the cost of an action
func (p Pricing) Price(action string) (int64, bool) {
	cost, ok := p[action]
	return cost, ok && cost > 0
}

// Actions lists the priced actions in name order
func (p Pricing) Actions() []string {
	out := make([]string, 0, len(p))
	for a := range p {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Charge spends the price of action, tagging the entry with reference.
// It returns the amount charged and whether the balance covered it.
func (l *Ledger) Charge(ctx context.Context, p Pricing, accountID, action, reference string) (bool, int64, error) {
	cost, ok := p.Price(action)
	if !ok {
		return false, 0, fmt.Errorf("unknown action %q", action)
	}
	spent, err := l.Spend(ctx, accountID, cost, domain.SpendReason(action), reference)
	return spent, cost, err
}

// Refund returns a charged amount after the action could not be delivered
func (l *Ledger) Refund(ctx context.Context, accountID, action string, amount int64, reference string) error {
	return l.Credit(ctx, accountID, amount, domain.RefundReason(action), reference)
}
