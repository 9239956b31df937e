package orchestration

import (
	"context"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/selector"
)

// SelectorAdapter bridges the in-process selector to the pipeline surface.
type SelectorAdapter struct {
	Inner *selector.Selector
}

func (a *SelectorAdapter) Select(ctx context.Context, outcomes []core.VariantOutcome,
	preferences map[string]float64, traceID string) (*Selection, error) {

	sel, err := a.Inner.Select(ctx, outcomes, preferences, traceID)
	if err != nil {
		return nil, err
	}
	return &Selection{
		Recommended:    sel.Recommended,
		Alternatives:   sel.Alternatives,
		ParetoFrontier: sel.ParetoFrontier,
	}, nil
}
