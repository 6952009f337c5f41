package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrAIUnavailable indicates the AI service is not reachable or returned an error.
var ErrAIUnavailable = errors.New("AI service unavailable")

// ANSI color codes for terminal output.
const (
	colorReset = "\033[0m"
	colorCyan  = "\033[36m"
	colorDim   = "\033[2m"
)

// spinner provides a terminal loading animation.
type spinner struct {
	mu      sync.Mutex
	out     io.Writer
	active  bool
	stop    chan struct{}
	done    chan struct{}
	message string
	frames  []string
	start   time.Time
	isTTY   bool
}

func newSpinner(out io.Writer, isTTY bool) *spinner {
	return &spinner{
		out:    out,
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		isTTY:  isTTY,
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func (s *spinner) Start(msg string) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.message = msg
	s.start = time.Now()
	s.mu.Unlock()

	if !s.isTTY {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		i := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				elapsed := time.Since(s.start).Round(100 * time.Millisecond)
				_, _ = fmt.Fprintf(s.out, "\r%s%s %s%s %s[%s]%s  ", colorCyan, s.frames[i%len(s.frames)], s.message, colorReset, colorDim, elapsed, colorReset)
				s.mu.Unlock()
				i++
			}
		}
	}()
}

func (s *spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stopCh := s.stop
	doneCh := s.done
	s.mu.Unlock()

	if s.isTTY && stopCh != nil {
		close(stopCh)
		<-doneCh
		_, _ = fmt.Fprint(s.out, "\r\033[K")
	}
}

// aiSolver reads CAPTCHAs with an OpenAI-compatible vision model.
type aiSolver struct {
	client openai.Client
	model  string
	spin   bool
}

const captchaPrompt = `You read CAPTCHA images.
Reply with ONLY the characters shown in the image: letters and digits, no spaces,
no punctuation, no explanation. If a character is ambiguous, give your best guess.`

// newAISolver returns nil when the AI solver is disabled.
func newAISolver(cfg appConfig, log *logger, spin bool) (*aiSolver, error) {
	if !cfg.AI.Enabled {
		return nil, nil
	}

	apiKey := strings.TrimSpace(cfg.AI.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("missing API key (set ai.api_key in config or OPENAI_API_KEY env)")
	}

	modelName := strings.TrimSpace(cfg.AI.Model)
	if modelName == "" {
		modelName = defaultAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.AI.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		log.infof("AI using custom endpoint: %s", baseURL)
	}

	return &aiSolver{client: openai.NewClient(opts...), model: modelName, spin: spin}, nil
}

func (s *aiSolver) Solve(ctx context.Context, c *captchaImage) (string, error) {
	raw, err := c.bytes()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNotRecognized, err)
	}
	dataURL := "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw)

	if s.spin {
		sp := newSpinner(os.Stderr, isTerminal(os.Stderr))
		sp.Start("reading captcha with " + s.model)
		defer sp.Stop()
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(captchaPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w: %v", errNotRecognized, ErrAIUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", errNotRecognized)
	}

	text := cleanCaptchaText(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: model returned no text", errNotRecognized)
	}
	return text, nil
}
