package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// errNotRecognized is wrapped by every solver failure. Callers fall back to
// the next solver or to manual entry.
var errNotRecognized = errors.New("captcha not recognized")

// captchaSolver turns a CAPTCHA image into its text.
type captchaSolver interface {
	Solve(ctx context.Context, c *captchaImage) (string, error)
}

// ocrEngine recognizes a single line of text in a grayscale PNG.
type ocrEngine interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

type ocrEngineFactory func(cfg ocrConfig) (ocrEngine, error)

// ocrEngines maps config names to engine constructors. Build-tagged files may
// register more.
var ocrEngines = map[string]ocrEngineFactory{
	"tesseract": newTesseractCLI,
}

func newOCREngine(cfg ocrConfig) (ocrEngine, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Engine))
	f, ok := ocrEngines[name]
	if !ok {
		known := make([]string, 0, len(ocrEngines))
		for k := range ocrEngines {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown ocr engine %q (available: %s)", cfg.Engine, strings.Join(known, ", "))
	}
	return f(cfg)
}

// tesseractCLI runs the tesseract binary in single-line mode (--psm 7).
type tesseractCLI struct {
	binary   string
	language string
}

func newTesseractCLI(cfg ocrConfig) (ocrEngine, error) {
	bin := cfg.Binary
	if bin == "" {
		bin = defaultOCRBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("tesseract not found: %w", err)
	}
	return &tesseractCLI{binary: path, language: cfg.Language}, nil
}

func (t *tesseractCLI) Recognize(ctx context.Context, png []byte) (string, error) {
	args := []string{"stdin", "stdout", "--psm", "7"}
	if t.language != "" {
		args = append(args, "-l", t.language)
	}
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ocrSolver is the automatic solver: grayscale, OCR, clean up.
type ocrSolver struct {
	engine ocrEngine
}

func (s *ocrSolver) Solve(ctx context.Context, c *captchaImage) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: ocr panic: %v", errNotRecognized, r)
		}
	}()

	img, err := c.grayscalePNG()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNotRecognized, err)
	}
	raw, err := s.engine.Recognize(ctx, img)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNotRecognized, err)
	}
	text = cleanCaptchaText(raw)
	if text == "" {
		return "", fmt.Errorf("%w: ocr returned no text", errNotRecognized)
	}
	return text, nil
}

// namedSolver labels a solver for logging.
type namedSolver struct {
	name   string
	solver captchaSolver
}

// chainSolver tries each solver in order and returns the first result.
type chainSolver struct {
	solvers []namedSolver
	log     *logger
}

func (s *chainSolver) Solve(ctx context.Context, c *captchaImage) (string, error) {
	if len(s.solvers) == 0 {
		return "", fmt.Errorf("%w: no automatic solver configured", errNotRecognized)
	}
	var errs []error
	for _, ns := range s.solvers {
		text, err := ns.solver.Solve(ctx, c)
		if err == nil && text != "" {
			s.log.okf("%s captcha read: %s", ns.name, text)
			return text, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty result", errNotRecognized)
		}
		s.log.warnf("%s failed: %v", ns.name, err)
		errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
	}
	return "", errors.Join(errs...)
}
