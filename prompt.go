package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// promptSolver asks the operator to type the CAPTCHA. It blocks until a line
// is read; there is no timeout.
type promptSolver struct {
	in        *bufio.Reader
	out       io.Writer
	imagePath string
}

func newPromptSolver(in io.Reader, out io.Writer, imagePath string) *promptSolver {
	return &promptSolver{in: bufio.NewReader(in), out: out, imagePath: imagePath}
}

func (p *promptSolver) Solve(_ context.Context, _ *captchaImage) (string, error) {
	if p.imagePath != "" {
		_, _ = fmt.Fprintf(p.out, "CAPTCHA image saved to %s\n", p.imagePath)
	}
	_, _ = fmt.Fprint(p.out, "Enter CAPTCHA manually: ")

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read captcha: %w", err)
	}
	text := strings.TrimSpace(line)
	if text == "" {
		return "", fmt.Errorf("%w: empty input", errNotRecognized)
	}
	return text, nil
}
