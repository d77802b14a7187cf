package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register the PNG decoder for image.Decode
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/ask-stream/internal/models"
)

// FileScreenshot serves the screen capture an external tool keeps writing to a file. The image is
// re-encoded as JPEG at the requested quality.
type FileScreenshot struct {
	path   string
	maxAge time.Duration

	logger *slog.Logger
}

var jpegQuality = map[models.Quality]int{
	models.QualityLow:    40,
	models.QualityMedium: 70,
	models.QualityHigh:   90,
}

// NewFileScreenshot creates a FileScreenshot reading path. Captures older than maxAge are treated
// as missing; a zero maxAge accepts any capture.
func NewFileScreenshot(path string, maxAge time.Duration, logger *slog.Logger) FileScreenshot {
	return FileScreenshot{
		path:   path,
		maxAge: maxAge,
		logger: logger.With(slog.String("module", "screenshot")),
	}
}

// Capture returns the current capture as base64 JPEG. Any failure yields an unsuccessful result.
func (f FileScreenshot) Capture(_ context.Context, quality models.Quality) models.ScreenshotResult {
	b64, err := f.capture(quality)
	if err != nil {
		f.logger.Warn("Screenshot unavailable", slog.String(errLoggerKey, err.Error()))
		return models.ScreenshotResult{}
	}
	return models.ScreenshotResult{Success: true, Base64: b64}
}

func (f FileScreenshot) capture(quality models.Quality) (string, error) {
	if f.path == "" {
		return "", errors.New("no capture path configured")
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("error reading capture: %w", err)
	}
	if f.maxAge > 0 && time.Since(info.ModTime()) > f.maxAge {
		return "", fmt.Errorf("capture is stale: taken %s", info.ModTime().Format(time.RFC3339))
	}

	file, err := os.Open(f.path)
	if err != nil {
		return "", fmt.Errorf("error opening capture: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("error decoding capture: %w", err)
	}

	q, ok := jpegQuality[quality]
	if !ok {
		q = jpegQuality[models.QualityMedium]
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return "", fmt.Errorf("error encoding capture: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
