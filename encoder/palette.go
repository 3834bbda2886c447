package encoder

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
)

// decodeFile reads any supported source into memory
func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// ToTrueColor upgrades palette images to NRGBA so transparency survives encoding.
// Other images are returned unchanged.
func ToTrueColor(img image.Image) image.Image {
	p, ok := img.(*image.Paletted)
	if !ok {
		return img
	}
	b := p.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, p, b.Min, draw.Src)
	return out
}

// trueColorSource returns a path an external encoder can read without
// losing alpha. Palette sources are rewritten to a temporary NRGBA PNG;
// cleanup removes it. JPEG sources are passed through untouched.
func trueColorSource(path string, format Format) (string, func(), error) {
	noop := func() {}
	if format == FormatJPEG {
		return path, noop, nil
	}
	img, err := decodeFile(path)
	if err != nil {
		return "", noop, err
	}
	if _, paletted := img.(*image.Paletted); !paletted && format == FormatPNG {
		return path, noop, nil
	}

	tmp, err := os.CreateTemp("", "mediagent-truecolor-*.png")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if err := png.Encode(tmp, ToTrueColor(img)); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("write true-color source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmp.Name(), cleanup, nil
}
