// Package tesseract adapts libtesseract, through gosseract, to the ocr.Engine interface.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/Proton-105/protrader-agent/internal/ocr"
	"github.com/Proton-105/protrader-agent/pkg/config"
)

const digitWhitelist = "0123456789"

// Engine recognizes digits with a single tesseract client. The client is not
// safe for concurrent use so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New configures a tesseract client for single-line digit recognition.
func New(cfg config.OCRConfig) (*Engine, error) {
	client := gosseract.NewClient()

	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("set tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSeg)); err != nil {
		client.Close()
		return nil, fmt.Errorf("set tesseract page segmentation: %w", err)
	}
	if err := client.SetWhitelist(digitWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("set tesseract whitelist: %w", err)
	}

	return &Engine{client: client}, nil
}

// Digits joins every recognized word holding a digit and averages their confidence.
func (e *Engine) Digits(ctx context.Context, img image.Image) (ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ocr.Recognition{}, fmt.Errorf("encode ocr image: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return ocr.Recognition{}, fmt.Errorf("load ocr image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("recognize digits: %w", err)
	}

	var (
		text  strings.Builder
		total float64
		n     int
	)
	for _, box := range boxes {
		if !strings.ContainsAny(box.Word, digitWhitelist) {
			continue
		}
		text.WriteString(box.Word)
		if box.Confidence >= 0 {
			total += box.Confidence
			n++
		}
	}

	conf := -1.0
	if n > 0 {
		conf = total / float64(n)
	}
	return ocr.Recognition{Text: strings.TrimSpace(text.String()), Confidence: conf}, nil
}

// Close releases the tesseract client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
