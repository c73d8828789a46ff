// Package dewarp flattens page curvature. The fit is best effort: whenever
// the text lines do not support a confident model the identity is returned.
package dewarp

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"go-repub/internal/imaging"
	"go-repub/pkg/models"
)

// Config tunes line tracing and acceptance of a fitted model.
type Config struct {
	Strips          int
	InkThreshold    uint8
	MinLines        int
	MinStrips       int
	MinConfidence   float64
	MaxResidual     float64
	MinDisplacement float64
}

// DefaultConfig returns the dewarp defaults.
func DefaultConfig() Config {
	return Config{
		Strips:          8,
		InkThreshold:    128,
		MinLines:        3,
		MinStrips:       5,
		MinConfidence:   0.5,
		MaxResidual:     1.5,
		MinDisplacement: 1,
	}
}

// Dewarper fits a curvature model to the text lines of a deskewed page.
type Dewarper struct {
	cfg Config
}

// New creates a dewarper
func New(cfg Config) *Dewarper {
	def := DefaultConfig()
	if cfg.Strips < 3 {
		cfg.Strips = def.Strips
	}
	if cfg.InkThreshold == 0 {
		cfg.InkThreshold = def.InkThreshold
	}
	if cfg.MinLines <= 0 {
		cfg.MinLines = def.MinLines
	}
	if cfg.MinStrips <= 0 || cfg.MinStrips > cfg.Strips {
		cfg.MinStrips = (cfg.Strips + 1) / 2
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MaxResidual <= 0 {
		cfg.MaxResidual = def.MaxResidual
	}
	if cfg.MinDisplacement <= 0 {
		cfg.MinDisplacement = def.MinDisplacement
	}
	return &Dewarper{cfg: cfg}
}

func identity(reason string) *models.DewarpModel {
	return &models.DewarpModel{Identity: true, Reason: reason}
}

// Fit traces text lines inside region of img and fits the displacement field.
func (d *Dewarper) Fit(img image.Image, region image.Rectangle) *models.DewarpModel {
	gray := imaging.ToGray(img)
	region = region.Intersect(gray.Rect)
	if region.Dx() < d.cfg.Strips*4 || region.Dy() < 20 {
		return identity("region too small")
	}

	strips := d.traceStrips(gray, region)
	tracks := track(strips)
	if len(tracks) == 0 {
		return identity("no text lines")
	}

	cx := float64(region.Min.X+region.Max.X) / 2
	var as, bs []float64
	good := 0
	for _, tr := range tracks {
		if len(tr) < d.cfg.MinStrips {
			continue
		}
		a, b, rms, ok := fitQuadratic(tr, cx)
		if !ok {
			continue
		}
		as = append(as, a)
		bs = append(bs, b)
		if rms <= d.cfg.MaxResidual {
			good++
		}
	}
	if len(as) < d.cfg.MinLines {
		return identity("too few text lines")
	}

	// share of traced lines that fitted cleanly
	confidence := float64(good) / float64(len(tracks))
	m := &models.DewarpModel{
		A:          median(as),
		B:          median(bs),
		CX:         cx,
		Lines:      len(as),
		Confidence: confidence,
	}
	if confidence < d.cfg.MinConfidence {
		return &models.DewarpModel{Identity: true, Lines: m.Lines, Confidence: confidence, Reason: "low confidence"}
	}
	half := float64(region.Dx()) / 2
	if math.Abs(m.A)*half*half+math.Abs(m.B)*half < d.cfg.MinDisplacement {
		return &models.DewarpModel{Identity: true, Lines: m.Lines, Confidence: confidence, Reason: "negligible curvature"}
	}
	return m
}

// Apply remaps img with the model. Identity models return img unchanged.
func Apply(img image.Image, m *models.DewarpModel) image.Image {
	if m == nil || m.Identity {
		return img
	}
	return imaging.Remap(img, m.Displacement)
}

type sample struct {
	x, y float64
}

// traceStrips splits the region into vertical strips and returns, per strip,
// the centres of the ink bands found in its row profile.
func (d *Dewarper) traceStrips(gray *image.Gray, region image.Rectangle) [][]sample {
	n := d.cfg.Strips
	width := region.Dx() / n
	out := make([][]sample, n)
	for s := 0; s < n; s++ {
		x0 := region.Min.X + s*width
		x1 := x0 + width
		if s == n-1 {
			x1 = region.Max.X
		}
		profile := make([]float64, region.Dy())
		for y := region.Min.Y; y < region.Max.Y; y++ {
			row := gray.Pix[y*gray.Stride:]
			count := 0
			for x := x0; x < x1; x++ {
				if row[x] < d.cfg.InkThreshold {
					count++
				}
			}
			profile[y-region.Min.Y] = float64(count)
		}
		minInk := math.Max(1, 0.02*float64(x1-x0))
		for _, b := range bands(profile, minInk) {
			// x of a band is the centroid of its ink, not the strip centre
			var sx, n float64
			for y := region.Min.Y + b.start; y < region.Min.Y+b.end; y++ {
				row := gray.Pix[y*gray.Stride:]
				for x := x0; x < x1; x++ {
					if row[x] < d.cfg.InkThreshold {
						sx += float64(x)
						n++
					}
				}
			}
			out[s] = append(out[s], sample{x: sx / n, y: b.center + float64(region.Min.Y)})
		}
	}
	return out
}

type band struct {
	start, end int
	center     float64
}

// bands returns every run of rows holding at least minInk ink pixels, with
// its ink-weighted centre row.
func bands(profile []float64, minInk float64) []band {
	var out []band
	start := -1
	for i := 0; i <= len(profile); i++ {
		on := i < len(profile) && profile[i] >= minInk
		if on && start < 0 {
			start = i
		}
		if !on && start >= 0 {
			if i-start >= 2 {
				rows := make([]float64, 0, i-start)
				for r := start; r < i; r++ {
					rows = append(rows, float64(r))
				}
				out = append(out, band{start: start, end: i, center: stat.Mean(rows, profile[start:i])})
			}
			start = -1
		}
	}
	return out
}

// track follows each band of the busiest strip outwards through its
// neighbours, matching the nearest band within half the line spacing.
func track(strips [][]sample) [][]sample {
	ref := 0
	for i, s := range strips {
		if len(s) > len(strips[ref]) {
			ref = i
		}
	}
	if len(strips[ref]) < 2 {
		return nil
	}
	var gaps []float64
	for i := 1; i < len(strips[ref]); i++ {
		gaps = append(gaps, strips[ref][i].y-strips[ref][i-1].y)
	}
	tol := math.Max(3, median(gaps)/2)

	var tracks [][]sample
	for _, start := range strips[ref] {
		tr := []sample{start}
		for _, dir := range []int{-1, 1} {
			expect := start.y
			for s := ref + dir; s >= 0 && s < len(strips); s += dir {
				m, ok := nearest(strips[s], expect, tol)
				if !ok {
					break
				}
				tr = append(tr, m)
				expect = m.y
			}
		}
		sort.Slice(tr, func(i, j int) bool { return tr[i].x < tr[j].x })
		tracks = append(tracks, tr)
	}
	return tracks
}

func nearest(candidates []sample, y, tol float64) (sample, bool) {
	best, bestDist := sample{}, math.Inf(1)
	for _, c := range candidates {
		if d := math.Abs(c.y - y); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist <= tol
}

// fitQuadratic solves y = a*u^2 + b*u + c with u = x - cx in the least-squares sense.
func fitQuadratic(tr []sample, cx float64) (a, b, rms float64, ok bool) {
	n := len(tr)
	if n < 3 {
		return 0, 0, 0, false
	}
	design := mat.NewDense(n, 3, nil)
	ys := mat.NewVecDense(n, nil)
	for i, s := range tr {
		u := s.x - cx
		design.Set(i, 0, u*u)
		design.Set(i, 1, u)
		design.Set(i, 2, 1)
		ys.SetVec(i, s.y)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(design, ys); err != nil {
		return 0, 0, 0, false
	}
	var sq float64
	for _, s := range tr {
		u := s.x - cx
		r := s.y - (coef.AtVec(0)*u*u + coef.AtVec(1)*u + coef.AtVec(2))
		sq += r * r
	}
	return coef.AtVec(0), coef.AtVec(1), math.Sqrt(sq / float64(n)), true
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
