package encoder

import (
	"context"
	"fmt"
	"os/exec"
)

// AvifEnc converts through libavif's avifenc
type AvifEnc struct {
	Binary string
}

func NewAvifEnc(binary string) AvifEnc {
	if binary == "" {
		binary = "avifenc"
	}
	return AvifEnc{Binary: binary}
}

func (a AvifEnc) Name() string { return "avifenc" }

func (a AvifEnc) Available() bool {
	_, err := exec.LookPath(a.Binary)
	return err == nil
}

func (a AvifEnc) Convert(ctx context.Context, in string, format Format) (string, error) {
	src, cleanup, err := trueColorSource(in, format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	defer cleanup()

	out := TargetPath(in, ".avif")
	args := []string{
		"-q", fmt.Sprint(Quality),
		"--speed", "6",
		src, out,
	}
	cmd := exec.CommandContext(ctx, a.Binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		removePartial(out)
		return "", fmt.Errorf("%w: avifenc: %v: %s", ErrConversionFailed, err, output)
	}
	return out, nil
}
