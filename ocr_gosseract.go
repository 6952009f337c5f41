//go:build gosseract

package main

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

func init() {
	ocrEngines["gosseract"] = newGosseract
}

// gosseractEngine runs tesseract in-process through libtesseract.
type gosseractEngine struct {
	language string
}

func newGosseract(cfg ocrConfig) (ocrEngine, error) {
	return &gosseractEngine{language: cfg.Language}, nil
}

func (g *gosseractEngine) Recognize(_ context.Context, png []byte) (string, error) {
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if g.language != "" {
		if err := client.SetLanguage(g.language); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", fmt.Errorf("set page seg mode: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	return client.Text()
}
