package encoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/chai2010/webp"
)

// CWebP shells out to libwebp's cwebp, the higher fidelity WebP backend
type CWebP struct {
	Binary string
}

func NewCWebP(binary string) CWebP {
	if binary == "" {
		binary = "cwebp"
	}
	return CWebP{Binary: binary}
}

func (c CWebP) Name() string { return "cwebp" }

func (c CWebP) Available() bool {
	_, err := exec.LookPath(c.Binary)
	return err == nil
}

func (c CWebP) Convert(ctx context.Context, in string, format Format) (string, error) {
	src, cleanup, err := trueColorSource(in, format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	defer cleanup()

	out := TargetPath(in, ".webp")
	args := []string{
		"-quiet",
		"-q", fmt.Sprint(Quality),
		"-m", "6",
		"-exact",
		"-metadata", "icc",
		src, "-o", out,
	}
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		removePartial(out)
		return "", fmt.Errorf("%w: cwebp: %v: %s", ErrConversionFailed, err, output)
	}
	return out, nil
}

// Native encodes WebP in-process; it is the baseline when cwebp is missing
type Native struct{}

func (Native) Name() string { return "native-webp" }

func (Native) Available() bool { return true }

func (Native) Convert(ctx context.Context, in string, format Format) (string, error) {
	img, err := decodeFile(in)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := TargetPath(in, ".webp")
	f, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	encErr := webp.Encode(f, ToTrueColor(img), &webp.Options{Quality: Quality, Exact: true})
	closeErr := f.Close()
	if encErr != nil || closeErr != nil {
		removePartial(out)
		if encErr == nil {
			encErr = closeErr
		}
		return "", fmt.Errorf("%w: encode webp: %v", ErrConversionFailed, encErr)
	}
	return out, nil
}
