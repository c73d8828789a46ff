// Package reconcile runs the cross-page consistency pass over a job's crop
// estimates. Reconcile is a pure function: the same input always yields the
// same decisions.
package reconcile

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"go-repub/pkg/models"
)

// Input is one page's estimate as seen by the reconciler.
type Input struct {
	Number         int
	Width, Height  int
	Box            models.CropBox
	CropConfidence float64
	SkewConfidence float64
	// SkewMeasured is false when deskew is disabled for the job.
	SkewMeasured bool
}

func (in Input) manual() bool {
	return in.Box.Provenance == models.ProvenanceManual
}

// Decision is the outcome for one page.
type Decision struct {
	Number      int
	Box         models.CropBox
	NeedsReview bool
	Reasons     []models.ReviewReason
	// Changed is set when the box was reshaped to the job medians.
	Changed bool
}

// Statistics are derived per pass and never stored.
type Statistics struct {
	Count        int
	MedianWidth  float64
	MedianHeight float64
	// MAD is the median absolute deviation.
	MADWidth     float64
	MADHeight    float64
	StdDevWidth  float64
	StdDevHeight float64
}

// Result of one reconciliation pass, decisions ordered by page number.
type Result struct {
	Decisions  []Decision
	Statistics Statistics
}

// Reconcile flags outlier crop boxes and, when enabled, reshapes deviating
// ones to the median size around their content centre. Manual boxes are
// neither counted nor modified.
func Reconcile(inputs []Input, opts models.ReconcileOptions) Result {
	pages := append([]Input(nil), inputs...)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	stats := statistics(pages)
	res := Result{Statistics: stats, Decisions: make([]Decision, len(pages))}

	for i, p := range pages {
		d := Decision{Number: p.Number, Box: p.Box}
		if p.manual() {
			res.Decisions[i] = d
			continue
		}

		if p.CropConfidence == 0 {
			d.Reasons = append(d.Reasons, models.ReasonLowConfidence)
		}
		if p.SkewMeasured && p.SkewConfidence == 0 {
			d.Reasons = append(d.Reasons, models.ReasonSkewUnknown)
		}
		tooSmall := float64(p.Box.Width()) < opts.MinWidthFraction*float64(p.Width) ||
			float64(p.Box.Height()) < opts.MinHeightFraction*float64(p.Height)
		if tooSmall {
			d.Reasons = append(d.Reasons, models.ReasonTooSmall)
		}
		deviates := false
		if deviation(float64(p.Box.Width()), stats.MedianWidth) > opts.Tolerance {
			d.Reasons = append(d.Reasons, models.ReasonWidthDeviation)
			deviates = true
		}
		if deviation(float64(p.Box.Height()), stats.MedianHeight) > opts.Tolerance {
			d.Reasons = append(d.Reasons, models.ReasonHeightDeviation)
			deviates = true
		}
		if touchesBorder(p, opts.BorderMargin) && neighboursClear(pages, i, opts.BorderMargin) {
			d.Reasons = append(d.Reasons, models.ReasonTouchesBorder)
		}

		if deviates && opts.AutoCorrect && !tooSmall && p.CropConfidence > 0 {
			d.Box = reshape(p, stats)
			d.Changed = true
		}
		d.NeedsReview = len(d.Reasons) > 0
		res.Decisions[i] = d
	}
	return res
}

func statistics(pages []Input) Statistics {
	var ws, hs []float64
	for _, p := range pages {
		if p.manual() {
			continue
		}
		ws = append(ws, float64(p.Box.Width()))
		hs = append(hs, float64(p.Box.Height()))
	}
	s := Statistics{Count: len(ws)}
	if len(ws) == 0 {
		return s
	}
	s.MedianWidth = median(ws)
	s.MedianHeight = median(hs)
	s.MADWidth = mad(ws, s.MedianWidth)
	s.MADHeight = mad(hs, s.MedianHeight)
	s.StdDevWidth = stat.PopStdDev(ws, nil)
	s.StdDevHeight = stat.PopStdDev(hs, nil)
	return s
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return stat.Mean(sorted[n/2-1:n/2+1], nil)
}

func mad(values []float64, m float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - m)
	}
	return median(dev)
}

func deviation(v, m float64) float64 {
	if m == 0 {
		return 0
	}
	return math.Abs(v-m) / m
}

func touchesBorder(p Input, margin int) bool {
	b := p.Box
	return b.Left <= margin || b.Top <= margin || b.Right >= p.Width-margin || b.Bottom >= p.Height-margin
}

// neighboursClear reports whether the page has at least one neighbour and
// none of its neighbours touch their border.
func neighboursClear(pages []Input, i int, margin int) bool {
	seen := false
	for _, j := range []int{i - 1, i + 1} {
		if j < 0 || j >= len(pages) {
			continue
		}
		seen = true
		if touchesBorder(pages[j], margin) {
			return false
		}
	}
	return seen
}

// reshape resizes the box to the median dimensions around its centre and
// shifts it back inside the image.
func reshape(p Input, s Statistics) models.CropBox {
	w := int(math.Round(s.MedianWidth))
	h := int(math.Round(s.MedianHeight))
	if w > p.Width {
		w = p.Width
	}
	if h > p.Height {
		h = p.Height
	}
	cx, cy := p.Box.Center()
	left := clamp(int(math.Round(cx-float64(w)/2)), 0, p.Width-w)
	top := clamp(int(math.Round(cy-float64(h)/2)), 0, p.Height-h)
	return models.CropBox{
		Left:       left,
		Top:        top,
		Right:      left + w,
		Bottom:     top + h,
		Provenance: models.ProvenanceReconciled,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
