// Package vision implements the low-level page analysis the geometry and
// dewarp stages build on: binarization, connected regions and straight edges
// traced along region boundaries. All functions are pure.
package vision

import (
	"image"
	"sort"

	"go-repub/internal/imaging"
)

// Options control thresholding and artifact suppression.
type Options struct {
	// Threshold splits foreground (>= Threshold) from background.
	Threshold uint8
	// MaxRegions is the number of largest regions considered.
	MaxRegions int
	// XMax is the thickness under which horizontal strips count as line artifacts.
	XMax int
	// YMax is the thickness under which vertical strips count as line artifacts.
	YMax int
}

// DefaultOptions matches the defaults of the page processing tools.
func DefaultOptions() Options {
	return Options{Threshold: 125, MaxRegions: 5, XMax: 30, YMax: 60}
}

func (o Options) normalized() Options {
	if o.Threshold == 0 {
		o.Threshold = 125
	}
	if o.MaxRegions < 1 {
		o.MaxRegions = 1
	}
	if o.XMax < 1 {
		o.XMax = 1
	}
	if o.YMax < 1 {
		o.YMax = 1
	}
	return o
}

// Region is a connected foreground area.
type Region struct {
	Bounds image.Rectangle
	Area   int

	label int32
}

// Detector implements estimate_contours and estimate_lines.
type Detector struct{}

// NewDetector creates a detector
func NewDetector() *Detector {
	return &Detector{}
}

// EstimateContours returns up to opts.MaxRegions regions by descending area,
// after dropping thin line artifacts and trimming thin strips from each
// region's bounding box.
func (d *Detector) EstimateContours(img image.Image, opts Options) []Region {
	s := analyze(img, opts.normalized())
	return s.regions
}

// scene is one labeled binarization of an image.
type scene struct {
	w, h    int
	labels  []int32
	regions []Region
}

type component struct {
	area                   int
	minX, minY, maxX, maxY int
}

func analyze(img image.Image, opts Options) *scene {
	gray := imaging.ToGray(img)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	s := &scene{w: w, h: h}
	if w == 0 || h == 0 {
		return s
	}
	fg := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			fg[y*w+x] = v >= opts.Threshold
		}
	}
	labels, comps := label(fg, w, h)
	s.labels = labels

	type candidate struct {
		id int32
		c  component
	}
	var cands []candidate
	for id, c := range comps {
		if id == 0 || c.area == 0 {
			continue
		}
		// Whole components thinner than the artifact limits are scanner lines.
		if c.maxY-c.minY+1 < opts.XMax || c.maxX-c.minX+1 < opts.YMax {
			continue
		}
		cands = append(cands, candidate{int32(id), c})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].c.area != cands[j].c.area {
			return cands[i].c.area > cands[j].c.area
		}
		if cands[i].c.minY != cands[j].c.minY {
			return cands[i].c.minY < cands[j].c.minY
		}
		return cands[i].c.minX < cands[j].c.minX
	})
	if limit := 2 * opts.MaxRegions; len(cands) > limit {
		cands = cands[:limit]
	}

	for _, cand := range cands {
		r, area := s.trim(cand.id, cand.c, opts)
		if area == 0 {
			continue
		}
		s.regions = append(s.regions, Region{Bounds: r, Area: area, label: cand.id})
	}
	sort.SliceStable(s.regions, func(i, j int) bool {
		return s.regions[i].Area > s.regions[j].Area
	})
	if len(s.regions) > opts.MaxRegions {
		s.regions = s.regions[:opts.MaxRegions]
	}
	return s
}

// trim removes leading and trailing columns holding fewer than XMax pixels of
// the region (thin horizontal strips) and rows holding fewer than YMax pixels
// (thin vertical strips). It returns the trimmed bounds and the pixel count inside.
func (s *scene) trim(id int32, c component, opts Options) (image.Rectangle, int) {
	cols := make([]int, c.maxX-c.minX+1)
	rows := make([]int, c.maxY-c.minY+1)
	for y := c.minY; y <= c.maxY; y++ {
		base := y * s.w
		for x := c.minX; x <= c.maxX; x++ {
			if s.labels[base+x] == id {
				cols[x-c.minX]++
				rows[y-c.minY]++
			}
		}
	}
	x0, x1 := 0, len(cols)-1
	for x0 <= x1 && cols[x0] < opts.XMax {
		x0++
	}
	for x1 >= x0 && cols[x1] < opts.XMax {
		x1--
	}
	y0, y1 := 0, len(rows)-1
	for y0 <= y1 && rows[y0] < opts.YMax {
		y0++
	}
	for y1 >= y0 && rows[y1] < opts.YMax {
		y1--
	}
	if x0 > x1 || y0 > y1 {
		return image.Rectangle{}, 0
	}
	r := image.Rect(c.minX+x0, c.minY+y0, c.minX+x1+1, c.minY+y1+1)
	area := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		base := y * s.w
		for x := r.Min.X; x < r.Max.X; x++ {
			if s.labels[base+x] == id {
				area++
			}
		}
	}
	return r, area
}

// label assigns 8-connected component ids with a two-pass union-find.
// Index 0 of the returned components is background.
func label(fg []bool, w, h int) ([]int32, []component) {
	labels := make([]int32, w*h)
	parent := []int32{0}

	find := func(x int32) int32 {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int32) int32 {
		ra, rb := find(a), find(b)
		if ra == rb {
			return ra
		}
		if ra < rb {
			parent[rb] = ra
			return ra
		}
		parent[ra] = rb
		return rb
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !fg[i] {
				continue
			}
			var cur int32
			neighbours := [4]int{-1, -1, -1, -1}
			if x > 0 {
				neighbours[0] = i - 1
			}
			if y > 0 {
				neighbours[1] = i - w
				if x > 0 {
					neighbours[2] = i - w - 1
				}
				if x < w-1 {
					neighbours[3] = i - w + 1
				}
			}
			for _, n := range neighbours {
				if n < 0 || labels[n] == 0 {
					continue
				}
				if cur == 0 {
					cur = labels[n]
				} else {
					cur = union(cur, labels[n])
				}
			}
			if cur == 0 {
				cur = int32(len(parent))
				parent = append(parent, cur)
			}
			labels[i] = cur
		}
	}

	// Compact roots into dense ids.
	dense := make([]int32, len(parent))
	var next int32
	for i := 1; i < len(parent); i++ {
		r := find(int32(i))
		if dense[r] == 0 {
			next++
			dense[r] = next
		}
		dense[i] = dense[r]
	}
	comps := make([]component, next+1)
	for i := range comps {
		comps[i] = component{minX: w, minY: h, maxX: -1, maxY: -1}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if labels[i] == 0 {
				continue
			}
			id := dense[labels[i]]
			labels[i] = id
			c := &comps[id]
			c.area++
			if x < c.minX {
				c.minX = x
			}
			if x > c.maxX {
				c.maxX = x
			}
			if y < c.minY {
				c.minY = y
			}
			if y > c.maxY {
				c.maxY = y
			}
		}
	}
	comps[0] = component{}
	return labels, comps
}
