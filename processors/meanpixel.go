// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package processors

import (
	"github.com/mdhender/limsd/model"
	"github.com/spf13/afero"
)

// MeanPixel computes the mean value over all RGB channel samples of an
// image, in [0, 255]. It still uses the legacy Process convention.
type MeanPixel struct{}

func (MeanPixel) Process(fs afero.Fs, path string) (model.Value, error) {
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
			sum += float64(r>>8) + float64(g>>8) + float64(b>>8)
			n += 3
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}

	return model.MapOf(map[string]model.Value{
		"mean_pixel": model.Number(mean),
	}), nil
}
