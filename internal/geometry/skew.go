package geometry

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"go-repub/internal/vision"
	"go-repub/pkg/models"
)

// dominant is the outcome of the angle histogram for one orientation.
type dominant struct {
	angle      float64
	confidence float64
	weight     float64
	lines      int
}

func (e *Estimator) skew(img image.Image, w, h int, rt models.RotateType, vopts vision.Options) (float64, float64, int) {
	var hd, vd dominant
	if rt == models.RotateHorizontal || rt == models.RotateOverall {
		lines := e.vision.EstimateLines(img, vision.Horizontal, vopts)
		hd = e.histogram(filterLines(lines, float64(w)*e.cfg.MinLineFraction, e.cfg.MaxSkew))
	}
	if rt != models.RotateHorizontal {
		lines := e.vision.EstimateLines(img, vision.Vertical, vopts)
		vd = e.histogram(filterLines(lines, float64(h)*e.cfg.MinLineFraction, e.cfg.MaxSkew))
	}

	var d dominant
	switch {
	case hd.lines == 0 && vd.lines == 0:
		return 0, 0, 0
	case hd.lines == 0:
		d = vd
	case vd.lines == 0:
		d = hd
	case math.Abs(hd.angle-vd.angle) <= e.cfg.BinWidth:
		total := hd.weight + vd.weight
		d = dominant{
			angle:      stat.Mean([]float64{hd.angle, vd.angle}, []float64{hd.weight, vd.weight}),
			confidence: (hd.confidence*hd.weight + vd.confidence*vd.weight) / total,
			weight:     total,
			lines:      hd.lines + vd.lines,
		}
	default:
		d = prefer(vd, hd)
	}
	return d.angle, d.confidence, d.lines
}

// prefer picks the orientation backed by longer lines, then more lines, then a.
func prefer(a, b dominant) dominant {
	if b.weight > a.weight {
		return b
	}
	if b.weight == a.weight && b.lines > a.lines {
		return b
	}
	return a
}

func filterLines(lines []vision.Line, minLength, maxAngle float64) []vision.Line {
	var out []vision.Line
	for _, l := range lines {
		if l.Length >= minLength && math.Abs(l.Angle) <= maxAngle {
			out = append(out, l)
		}
	}
	return out
}

// histogram bins line angles weighted by length and refines the heaviest bin
// with the weighted mean of it and its two neighbours.
func (e *Estimator) histogram(lines []vision.Line) dominant {
	if len(lines) == 0 {
		return dominant{}
	}
	bw := e.cfg.BinWidth
	n := int(math.Round(2*e.cfg.MaxSkew/bw)) + 1
	bins := make([]float64, n)
	idx := make([]int, len(lines))
	var total float64
	for i, l := range lines {
		k := int(math.Round((l.Angle + e.cfg.MaxSkew) / bw))
		if k < 0 {
			k = 0
		}
		if k >= n {
			k = n - 1
		}
		idx[i] = k
		bins[k] += l.Length
		total += l.Length
	}
	if total == 0 {
		return dominant{}
	}

	center := (n - 1) / 2
	best := 0
	for k := 1; k < n; k++ {
		if bins[k] > bins[best] || (bins[k] == bins[best] && absInt(k-center) < absInt(best-center)) {
			best = k
		}
	}

	var angles, weights []float64
	var window float64
	for i, l := range lines {
		if absInt(idx[i]-best) <= 1 {
			angles = append(angles, l.Angle)
			weights = append(weights, l.Length)
			window += l.Length
		}
	}
	return dominant{
		angle:      stat.Mean(angles, weights),
		confidence: window / total,
		weight:     total,
		lines:      len(lines),
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
