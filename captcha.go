package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// captchaField is the JSON field of the reload response carrying the image.
const captchaField = "captchaBase64"

// errNoCaptcha indicates the reload endpoint did not yield an image.
var errNoCaptcha = errors.New("captcha not available")

// captchaImage is a CAPTCHA as delivered by the portal: base64 image bytes.
type captchaImage struct {
	Base64 string
}

// parseCaptchaResponse extracts the base64 image from a reload response body.
func parseCaptchaResponse(body []byte) (*captchaImage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not json", errNoCaptcha)
	}
	v := gjson.GetBytes(body, captchaField)
	if !v.Exists() || v.Type != gjson.String || strings.TrimSpace(v.String()) == "" {
		return nil, fmt.Errorf("%w: %s missing", errNoCaptcha, captchaField)
	}
	return &captchaImage{Base64: strings.TrimSpace(v.String())}, nil
}

// bytes decodes the image payload. A data URI prefix is accepted.
func (c *captchaImage) bytes() ([]byte, error) {
	if c == nil || c.Base64 == "" {
		return nil, errors.New("empty captcha")
	}
	raw := c.Base64
	if strings.HasPrefix(raw, "data:") {
		if i := strings.Index(raw, ";base64,"); i >= 0 {
			raw = raw[i+len(";base64,"):]
		}
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if b2, err2 := base64.RawStdEncoding.DecodeString(raw); err2 == nil {
			return b2, nil
		}
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}

// grayscalePNG decodes the captcha, converts it to a single channel and
// re-encodes it as PNG for the OCR engines.
func (c *captchaImage) grayscalePNG() ([]byte, error) {
	raw, err := c.bytes()
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode grayscale: %w", err)
	}
	return buf.Bytes(), nil
}

// saveCaptchaImage writes the decoded image to path, replacing any previous file.
func saveCaptchaImage(path string, c *captchaImage) error {
	raw, err := c.bytes()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, raw, 0o644); err != nil {
		return fmt.Errorf("save captcha: %w", err)
	}
	return nil
}

// cleanCaptchaText keeps only letters and digits, upper-cased.
func cleanCaptchaText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}
