// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package processors

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spf13/afero"
)

func decodeImage(fs afero.Fs, path string) (image.Image, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
