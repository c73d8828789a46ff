package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Orientation of a detected line.
type Orientation int

const (
	Horizontal Orientation = iota
	Vertical
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// Line is a straight edge fitted to a run of region boundary points.
// Angle is in degrees; positive means the content is turned clockwise.
type Line struct {
	Orientation Orientation
	X0, Y0      float64
	X1, Y1      float64
	Angle       float64
	Length      float64
	Points      int
}

const (
	minLinePoints = 10
	maxGap        = 2
	outlierDist   = 2.0
)

type point struct{ u, v float64 }

// EstimateLines traces the outer boundary of the largest regions and fits
// straight lines of the requested orientation.
func (d *Detector) EstimateLines(img image.Image, o Orientation, opts Options) []Line {
	opts = opts.normalized()
	s := analyze(img, opts)
	var lines []Line
	for _, r := range s.regions {
		near, far := s.profiles(r, o)
		limit := float64(opts.YMax)
		if o == Vertical {
			limit = float64(opts.XMax)
		}
		for _, profile := range [][]point{near, far} {
			for _, g := range group(profile, limit) {
				if l, ok := fit(g, o); ok {
					lines = append(lines, l)
				}
			}
		}
	}
	return lines
}

// profiles returns the two boundary traces of a region. For horizontal lines
// u runs along x and v is the top (near) or bottom (far) y; for vertical
// lines u runs along y and v is the left or right x.
func (s *scene) profiles(r Region, o Orientation) (near, far []point) {
	b := r.Bounds
	if o == Horizontal {
		for x := b.Min.X; x < b.Max.X; x++ {
			top, bottom := -1, -1
			for y := b.Min.Y; y < b.Max.Y; y++ {
				if s.labels[y*s.w+x] == r.label {
					if top < 0 {
						top = y
					}
					bottom = y
				}
			}
			if top >= 0 {
				near = append(near, point{float64(x), float64(top)})
				far = append(far, point{float64(x), float64(bottom)})
			}
		}
		return near, far
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		left, right := -1, -1
		base := y * s.w
		for x := b.Min.X; x < b.Max.X; x++ {
			if s.labels[base+x] == r.label {
				if left < 0 {
					left = x
				}
				right = x
			}
		}
		if left >= 0 {
			near = append(near, point{float64(y), float64(left)})
			far = append(far, point{float64(y), float64(right)})
		}
	}
	return near, far
}

// group splits a boundary trace into runs whose offset stays within limit
// of the run's running average and which have no gaps along u.
func group(profile []point, limit float64) [][]point {
	var groups [][]point
	var cur []point
	var sum float64
	for _, p := range profile {
		if len(cur) > 0 {
			avg := sum / float64(len(cur))
			last := cur[len(cur)-1]
			if math.Abs(p.v-avg) >= limit || p.u-last.u > maxGap {
				groups = append(groups, cur)
				cur, sum = nil, 0
			}
		}
		cur = append(cur, p)
		sum += p.v
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// fit runs a least-squares fit v = a + b*u, drops points further than
// outlierDist from it and fits again.
func fit(g []point, o Orientation) (Line, bool) {
	if len(g) < minLinePoints {
		return Line{}, false
	}
	us := make([]float64, len(g))
	vs := make([]float64, len(g))
	for i, p := range g {
		us[i], vs[i] = p.u, p.v
	}
	a, b := stat.LinearRegression(us, vs, nil, false)

	keptU, keptV := us[:0:0], vs[:0:0]
	for i := range us {
		if math.Abs(vs[i]-(a+b*us[i])) <= outlierDist {
			keptU = append(keptU, us[i])
			keptV = append(keptV, vs[i])
		}
	}
	if len(keptU) < minLinePoints {
		return Line{}, false
	}
	if len(keptU) < len(us) {
		a, b = stat.LinearRegression(keptU, keptV, nil, false)
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return Line{}, false
	}

	u0, u1 := keptU[0], keptU[len(keptU)-1]
	v0, v1 := a+b*u0, a+b*u1
	angle := math.Atan(b) * 180 / math.Pi
	l := Line{
		Orientation: o,
		Length:      math.Hypot(u1-u0, v1-v0),
		Points:      len(keptU),
	}
	if o == Horizontal {
		l.X0, l.Y0, l.X1, l.Y1 = u0, v0, u1, v1
		l.Angle = angle
	} else {
		l.X0, l.Y0, l.X1, l.Y1 = v0, u0, v1, u1
		// x growing downwards means the content leans counter-clockwise.
		l.Angle = -angle
	}
	return l, true
}
