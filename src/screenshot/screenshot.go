package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kbinani/screenshot"
)

// Region represents a screen region to capture, in virtual-screen coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// ParseRegion accepts "x,y,width,height" (spaces allowed, "x" also accepted between width and height).
func ParseRegion(s string) (Region, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 3 && strings.Contains(fields[2], "x") {
		wh := strings.SplitN(fields[2], "x", 2)
		fields = []string{fields[0], fields[1], wh[0], wh[1]}
	}
	if len(fields) != 4 {
		return Region{}, fmt.Errorf("invalid region %q: want x,y,width,height", s)
	}
	var n [4]int
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Region{}, fmt.Errorf("invalid region %q: %w", s, err)
		}
		n[i] = v
	}
	r := Region{X: n[0], Y: n[1], Width: n[2], Height: n[3]}
	if !r.Valid() {
		return Region{}, fmt.Errorf("invalid region dimensions: width=%d, height=%d", r.Width, r.Height)
	}
	return r, nil
}

// Capture captures the entire virtual screen across all active displays
func Capture() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return screenshot.CaptureRect(union)
}

// CaptureRegion captures a specific region of the screen and returns it PNG-encoded.
func CaptureRegion(region Region) ([]byte, error) {
	if !region.Valid() {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}

	bounds := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}
	return encodePNG(img)
}

// CaptureRegionContext is CaptureRegion with the signature the pipeline expects.
func CaptureRegionContext(ctx context.Context, region Region) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return CaptureRegion(region)
}

// GetDisplayBounds returns the bounds of the primary display
func GetDisplayBounds() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	return screenshot.GetDisplayBounds(0), nil
}

// minOCRHeight is the height small captures are upscaled to before local OCR.
const minOCRHeight = 120

// Prepare makes a PNG friendlier to a local OCR engine: grayscale, a contrast
// boost, light sharpening and an upscale for short captures.
func Prepare(pngData []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 20)
	gray = imaging.Sharpen(gray, 0.7)
	if gray.Bounds().Dy() < minOCRHeight {
		gray = imaging.Resize(gray, 0, minOCRHeight*2, imaging.Lanczos)
	}
	return encodePNG(gray)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
