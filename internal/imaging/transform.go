// Package imaging holds the pixel transforms applied to pages: rotation,
// dewarp remapping, cropping, grayscale conversion and scale reduction.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var background = color.White

// ToGray converts img to an 8-bit grayscale image with a zero origin.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if ycc, ok := img.(*image.YCbCr); ok {
		for y := 0; y < b.Dy(); y++ {
			row := ycc.Y[ycc.YOffset(b.Min.X, b.Min.Y+y):]
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()], row[:b.Dx()])
		}
		return gray
	}
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// ToRGBA copies img into an RGBA image with a zero origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func blank(img image.Image, r image.Rectangle) draw.Image {
	return filled(img, r, background)
}

func filled(img image.Image, r image.Rectangle, fill color.Color) draw.Image {
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(r)
	} else {
		dst = image.NewRGBA(r)
	}
	draw.Draw(dst, r, image.NewUniform(fill), image.Point{}, draw.Src)
	return dst
}

// rotation returns the affine map turning points by degrees clockwise around (cx, cy).
func rotation(degrees, cx, cy float64) f64.Aff3 {
	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
}

// Rotate turns img clockwise by degrees around its centre. The canvas keeps
// its size; uncovered pixels are white. A negative angle rotates counter-clockwise.
func Rotate(img image.Image, degrees float64) image.Image {
	return RotateFill(img, degrees, background)
}

// RotateFill is Rotate with uncovered pixels painted fill.
func RotateFill(img image.Image, degrees float64, fill color.Color) image.Image {
	b := img.Bounds()
	r := image.Rect(0, 0, b.Dx(), b.Dy())
	if degrees == 0 {
		dst := filled(img, r, fill)
		draw.Draw(dst, r, img, b.Min, draw.Src)
		return dst
	}
	src := img
	if b.Min != (image.Point{}) {
		src = ToRGBA(img)
	}
	dst := filled(img, r, fill)
	cx, cy := float64(r.Dx())/2, float64(r.Dy())/2
	draw.BiLinear.Transform(dst, rotation(degrees, cx, cy), src, r, draw.Src, nil)
	return dst
}

// RotateQuarter turns img clockwise by a multiple of 90 degrees without
// resampling; the canvas swaps its sides on odd turns. Other angles leave
// img untouched.
func RotateQuarter(img image.Image, degrees int) image.Image {
	if degrees%90 != 0 {
		return img
	}
	turns := ((degrees/90)%4 + 4) % 4
	if turns == 0 {
		return img
	}
	src := img
	b := img.Bounds()
	if b.Min != (image.Point{}) {
		src = ToRGBA(img)
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	var m f64.Aff3
	r := image.Rect(0, 0, b.Dy(), b.Dx())
	switch turns {
	case 1:
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	case 2:
		m = f64.Aff3{-1, 0, w, 0, -1, h}
		r = image.Rect(0, 0, b.Dx(), b.Dy())
	case 3:
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	}
	dst := blank(img, r)
	draw.NearestNeighbor.Transform(dst, m, src, src.Bounds(), draw.Src, nil)
	return dst
}

// RotatePoint applies the same rotation as Rotate to a single point.
func RotatePoint(x, y, cx, cy, degrees float64) (float64, float64) {
	m := rotation(degrees, cx, cy)
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Crop copies the part of img inside r into a new zero-origin image.
func Crop(img image.Image, r image.Rectangle) image.Image {
	b := img.Bounds()
	r = r.Add(b.Min).Intersect(b)
	out := blank(img, image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// Scale resizes img by factor using Catmull-Rom. Factors outside (0,1) return img unchanged.
func Scale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor >= 1 {
		return img
	}
	b := img.Bounds()
	w := int(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*factor)))
	dst := blank(img, image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Downsample shrinks img so its longer side is at most maxDim and returns
// the factor applied (1 when untouched).
func Downsample(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if maxDim <= 0 || longest <= maxDim {
		return img, 1
	}
	factor := float64(maxDim) / float64(longest)
	w := int(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*factor)))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, factor
}

// Remap shifts every column vertically: out(x, y) = in(x, y + dy(x)),
// sampling linearly between rows. Pixels mapped from outside are white.
func Remap(img image.Image, dy func(x float64) float64) image.Image {
	src := ToRGBA(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(b)
	for x := 0; x < w; x++ {
		shift := dy(float64(x))
		for y := 0; y < h; y++ {
			sy := float64(y) + shift
			y0 := int(math.Floor(sy))
			t := sy - float64(y0)
			c0 := rgbaAt(src, x, y0)
			c1 := rgbaAt(src, x, y0+1)
			i := out.PixOffset(x, y)
			for k := 0; k < 4; k++ {
				out.Pix[i+k] = uint8(math.Round(float64(c0[k])*(1-t) + float64(c1[k])*t))
			}
		}
	}
	if _, ok := img.(*image.Gray); ok {
		return ToGray(out)
	}
	return out
}

func rgbaAt(img *image.RGBA, x, y int) [4]uint8 {
	if y < 0 || y >= img.Rect.Dy() {
		return [4]uint8{0xff, 0xff, 0xff, 0xff}
	}
	i := img.PixOffset(x, y)
	return [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
}

// Outline draws rectangle borders of the given thickness onto a copy of img.
func Outline(img image.Image, rects []image.Rectangle, c color.Color, thickness int) image.Image {
	out := ToRGBA(img)
	if image.Image(out) == img {
		out = cloneRGBA(out)
	}
	if thickness < 1 {
		thickness = 1
	}
	u := image.NewUniform(c)
	for _, r := range rects {
		edges := []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
			image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
			image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(out, e.Intersect(out.Bounds()), u, image.Point{}, draw.Src)
		}
	}
	return out
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	cp := image.NewRGBA(img.Rect)
	copy(cp.Pix, img.Pix)
	return cp
}

// EncodeJPEG encodes img as a JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img so its width is at most width pixels.
func Thumbnail(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width {
		return img
	}
	h := int(math.Max(1, math.Round(float64(b.Dy())*float64(width)/float64(b.Dx()))))
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
