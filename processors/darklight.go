// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package processors

import (
	"math"

	"github.com/mdhender/limsd/model"
	"github.com/spf13/afero"
)

// DarkLight classifies an image as Dark or Light by pushing its mean
// luminance through a sigmoid centered at 128 with width 16. Scores at
// or above 0.5 are Light.
type DarkLight struct{}

func (DarkLight) Run(fs afero.Fs, path string) (model.Value, error) {
	img, err := decodeImage(fs, path)
	if err != nil {
		return model.Value{}, err
	}

	bounds := img.Bounds()
	var sum float64
	var n int64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R 601 luma, the same weights PIL uses for "L" mode.
			sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}

	sig := 1.0 / (1.0 + math.Exp(-(mean-128.0)/16.0))
	label := "Light"
	if sig < 0.5 {
		label = "Dark"
	}

	return model.MapOf(map[string]model.Value{
		"sigmoid_score":  model.Number(round(sig, 3)),
		"classification": model.Text(label),
		"mean_val":       model.Number(round(mean, 2)),
	}), nil
}

func round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
