package labels

import (
	"context"
	"log/slog"

	"github.com/fraudlens/fraudlens/internal/metrics"
	"github.com/fraudlens/fraudlens/internal/warehouse"
)

// DefaultFallbackThreshold is the unknown-label fraction above which the
// joiner walks the fallback cascade.
const DefaultFallbackThreshold = 0.5

// Joiner attaches ground-truth fraud labels to transaction ids. It never
// filters by window: labels are populated at fraud-detection time, not
// transaction time, and can lag by arbitrary intervals. Filtering by
// transaction time here silently loses labels (a defect observed in an
// earlier system); the caller has already constrained the ids to its
// window.
type Joiner struct {
	gw                warehouse.Gateway
	fallbackThreshold float64
	logger            *slog.Logger
}

// NewJoiner creates a label joiner over the warehouse gateway.
func NewJoiner(gw warehouse.Gateway) *Joiner {
	return &Joiner{
		gw:                gw,
		fallbackThreshold: DefaultFallbackThreshold,
		logger:            slog.Default().With("component", "label_joiner"),
	}
}

// JoinLabels resolves labels for txIDs. The returned map holds only
// known labels; an absent key means unknown, which is semantically
// distinct from 0 and keeps the transaction out of confusion-matrix
// arithmetic. When the primary source leaves more than the threshold
// fraction unknown, secondary sources are consulted in a fixed cascade;
// labels are never imputed.
func (j *Joiner) JoinLabels(ctx context.Context, txIDs []string) (map[string]int, error) {
	if len(txIDs) == 0 {
		return map[string]int{}, nil
	}

	labels, err := j.gw.Labels(ctx, txIDs, warehouse.SourcePrimary)
	if err != nil {
		return nil, err
	}

	unknown := missingIDs(txIDs, labels)
	unknownFraction := float64(len(unknown)) / float64(len(txIDs))
	if unknownFraction <= j.fallbackThreshold {
		return labels, nil
	}

	j.logger.Info("primary label coverage below threshold, walking cascade",
		"unknown", len(unknown), "total", len(txIDs))

	for _, source := range warehouse.LabelCascade[1:] {
		if len(unknown) == 0 {
			break
		}
		metrics.LabelCascadeSteps.Inc()
		fallback, err := j.gw.Labels(ctx, unknown, source)
		if err != nil {
			return nil, err
		}
		for id, label := range fallback {
			labels[id] = label
		}
		unknown = missingIDs(unknown, labels)
		j.logger.Debug("label cascade step", "source", string(source),
			"resolved", len(fallback), "still_unknown", len(unknown))
	}

	if len(unknown) > 0 {
		j.logger.Info("label cascade exhausted, leaving labels unknown", "count", len(unknown))
	}
	return labels, nil
}

func missingIDs(txIDs []string, labels map[string]int) []string {
	var out []string
	for _, id := range txIDs {
		if _, ok := labels[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
