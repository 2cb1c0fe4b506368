package acq

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
)

// black, green, yellow, white
var colorScale = []color.NRGBA{
	{0, 0, 0, 255},
	{0, 255, 0, 255},
	{255, 255, 0, 255},
	{255, 255, 255, 255},
}

func interpolate(t float64, a, b uint8) uint8 { return uint8(float64(a)*(1-t) + float64(b)*t) }

func powBin2Color(v float64) color.NRGBA {
	idx := float64(len(colorScale)-1) * v
	if int(idx)+1 >= len(colorScale) {
		return colorScale[len(colorScale)-1]
	}
	t := idx - float64(int(idx))
	prev, next := colorScale[int(idx)], colorScale[int(idx)+1]
	return color.NRGBA{
		interpolate(t, prev.R, next.R),
		interpolate(t, prev.G, next.G),
		interpolate(t, prev.B, next.B),
		255,
	}
}

// RenderPowerMap draws a normalized correlation power map with code
// phase along x and Doppler bins along y.
func RenderPowerMap(p [][]float64) image.Image {
	if len(p) == 0 {
		return image.NewNRGBA(image.Rectangle{})
	}
	r := image.Rectangle{Max: image.Point{len(p[0]), len(p)}}
	img := image.NewNRGBA(r)
	for y, row := range p {
		for x, v := range row {
			img.SetNRGBA(x, y, powBin2Color(v*v))
		}
	}
	return img
}

// WritePowerMapFile renders the power map to a JPEG file.
func WritePowerMapFile(outfn string, p [][]float64) error {
	outf, err := os.OpenFile(outfn, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer outf.Close()
	return jpeg.Encode(outf, RenderPowerMap(p), nil)
}
