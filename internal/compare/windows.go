package compare

import (
	"time"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// comparisonTZ anchors preset windows to the analyst's business day.
const comparisonTZ = "America/New_York"

// Recent14d is the default evaluation window: the fourteen days ending
// at the most recent local midnight in the comparison timezone.
func Recent14d(now time.Time) (models.Window, error) {
	loc, err := time.LoadLocation(comparisonTZ)
	if err != nil {
		return models.Window{}, errors.Wrap(err, errors.KindConfig, "failed to load comparison timezone")
	}
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return models.Window{
		Start: end.AddDate(0, 0, -14),
		End:   end,
		Label: "recent_14d",
	}, nil
}

// Retro returns a fourteen-day baseline window ending n months before
// the recent window begins. n is capped by the warehouse lookback.
func Retro(now time.Time, months, maxLookbackMonths int) (models.Window, error) {
	if months < 1 || months > maxLookbackMonths {
		return models.Window{}, errors.Newf(errors.KindInvalidFormat,
			"retro offset %d months out of [1,%d]", months, maxLookbackMonths)
	}
	recent, err := Recent14d(now)
	if err != nil {
		return models.Window{}, err
	}
	end := recent.Start.AddDate(0, -months, 0)
	return models.Window{
		Start: end.AddDate(0, 0, -14),
		End:   end,
		Label: "retro",
	}, nil
}

const (
	// expandStepDays is the backward extension applied per auto-expand
	// attempt.
	expandStepDays = 7
	// maxWindowDays caps auto-expansion.
	maxWindowDays = 180
)

// AutoExpandMeta records what expansion did so the report is honest
// about the window it actually analyzed.
type AutoExpandMeta struct {
	Applied     bool          `json:"applied"`
	Original    models.Window `json:"original"`
	Final       models.Window `json:"final"`
	AttemptDays []int         `json:"attempt_days"`
}

// supportThresholds are the minimum-support criteria a baseline window
// must meet before its metrics carry statistical weight.
type supportThresholds struct {
	MinTransactions int
	MinFrauds       int
	MinPredicted    int
}

// windowSupport counts what one candidate window offers toward the
// thresholds: known transactions, labeled frauds, and predictions at or
// above the risk threshold.
type windowSupport struct {
	Transactions int
	Frauds       int
	Predicted    int
}

func (s windowSupport) meets(t supportThresholds) bool {
	return s.Transactions >= t.MinTransactions &&
		s.Frauds >= t.MinFrauds &&
		s.Predicted >= t.MinPredicted
}

// autoExpand widens w backwards in week steps until fetch reports
// enough support on every criterion, the window reaches the cap, or
// the start hits floor. fetch is called once per candidate window and
// its last result is the one the caller should use.
func autoExpand(w models.Window, min supportThresholds, floor time.Time,
	fetch func(models.Window) (windowSupport, error)) (models.Window, *AutoExpandMeta, error) {

	meta := &AutoExpandMeta{Original: w, Final: w}

	s, err := fetch(w)
	if err != nil {
		return w, nil, err
	}
	meta.AttemptDays = append(meta.AttemptDays, windowDays(w))
	if s.meets(min) {
		return w, meta, nil
	}

	for {
		wider := models.Window{
			Start: w.Start.AddDate(0, 0, -expandStepDays),
			End:   w.End,
			Label: w.Label,
		}
		if windowDays(wider) > maxWindowDays {
			break
		}
		if wider.Start.Before(floor) {
			break
		}

		s, err = fetch(wider)
		if err != nil {
			return w, nil, err
		}
		w = wider
		meta.Applied = true
		meta.Final = w
		meta.AttemptDays = append(meta.AttemptDays, windowDays(w))
		if s.meets(min) {
			break
		}
	}
	return w, meta, nil
}

func windowDays(w models.Window) int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}
