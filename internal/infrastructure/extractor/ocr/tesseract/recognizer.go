// Package tesseract binds the OCR recognizer to libtesseract through cgo.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

type Recognizer struct {
	languages []string
}

// NewRecognizer accepts tesseract language codes joined with "+", e.g. "eng+rus".
func NewRecognizer(language string) *Recognizer {
	var langs []string
	for _, lang := range strings.Split(language, "+") {
		if lang = strings.TrimSpace(lang); lang != "" {
			langs = append(langs, lang)
		}
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Recognizer{languages: langs}
}

// Recognize creates a client per call; gosseract clients are not safe for
// concurrent use.
func (r *Recognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("load page image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize page image: %w", err)
	}
	return text, nil
}
