package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// stage is a state of one login run.
type stage int

const (
	stageStart stage = iota
	stagePageLoaded
	stageCaptchaFetched
	stageCaptchaResolved
	stageSubmitted
	stageSuccess
	stageAuthFailed
	stageAborted
)

func (s stage) String() string {
	switch s {
	case stageStart:
		return "START"
	case stagePageLoaded:
		return "PAGE_LOADED"
	case stageCaptchaFetched:
		return "CAPTCHA_FETCHED"
	case stageCaptchaResolved:
		return "CAPTCHA_RESOLVED"
	case stageSubmitted:
		return "SUBMITTED"
	case stageSuccess:
		return "SUCCESS"
	case stageAuthFailed:
		return "AUTH_FAILED"
	case stageAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// stageError reports the last state a failed run reached.
type stageError struct {
	Stage stage
	Err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("login aborted after %s: %v", e.Stage, e.Err)
}

func (e *stageError) Unwrap() error { return e.Err }

// loginRun walks one login sequence against the portal.
type loginRun struct {
	client      *portalClient
	auto        captchaSolver // nil disables automatic recognition
	manual      captchaSolver // nil disables manual entry
	captchaFile string
	sessionFile string
	log         *logger

	stage stage
}

func (r *loginRun) abort(err error) error {
	last := r.stage
	if errors.Is(err, errAuthRejected) {
		r.stage = stageAuthFailed
	} else {
		r.stage = stageAborted
	}
	return &stageError{Stage: last, Err: err}
}

// run performs the whole sequence. On success the session token, if the
// portal set one, has been written to the session file.
func (r *loginRun) run(ctx context.Context) (*loginResult, error) {
	r.stage = stageStart

	if err := r.client.loadLoginPage(ctx); err != nil {
		return nil, r.abort(err)
	}
	r.stage = stagePageLoaded

	captcha, err := r.client.fetchCaptcha(ctx)
	if err != nil {
		return nil, r.abort(err)
	}
	r.stage = stageCaptchaFetched

	text, err := r.resolveCaptcha(ctx, captcha)
	if err != nil {
		return nil, r.abort(err)
	}
	r.stage = stageCaptchaResolved
	r.log.debugf("captcha resolved: %s", text)

	// Tokens are set once the page loaded, so the form is always sent from here.
	r.stage = stageSubmitted
	res, err := r.client.submitLogin(ctx, text)
	if err != nil {
		return nil, r.abort(err)
	}
	r.log.ok("login successful")

	if res.Token == "" {
		r.log.warnf("%s cookie not found", r.client.sessionCookie)
	} else {
		r.log.okf("%s: %s", r.client.sessionCookie, res.Token)
		if err := writeSession(r.sessionFile, res.Token); err != nil {
			return nil, r.abort(err)
		}
		r.log.okf("saved %s to %s", r.client.sessionCookie, r.sessionFile)
	}
	r.stage = stageSuccess
	return res, nil
}

// resolveCaptcha tries automatic recognition, saves the image either way,
// then falls back to manual entry.
func (r *loginRun) resolveCaptcha(ctx context.Context, c *captchaImage) (string, error) {
	var text string
	if r.auto != nil {
		t, err := r.auto.Solve(ctx, c)
		if err != nil {
			r.log.warnf("automatic captcha recognition failed: %v", err)
		} else {
			text = t
		}
	}

	if err := saveCaptchaImage(r.captchaFile, c); err != nil {
		r.log.warnf("could not save captcha image: %v", err)
	} else {
		r.log.okf("captcha saved as %s", r.captchaFile)
	}

	if text != "" {
		return text, nil
	}
	if r.manual == nil {
		return "", fmt.Errorf("%w: manual entry disabled", errNotRecognized)
	}
	return r.manual.Solve(ctx, c)
}

// retryable reports whether another full attempt could succeed.
func retryable(err error) bool {
	return errors.Is(err, errAuthRejected) || errors.Is(err, errNotRecognized)
}

// loginOptions tunes obtainSession.
type loginOptions struct {
	Reuse       bool
	Interactive bool
	Stdin       io.Reader
	Prompt      io.Writer
	Now         func() time.Time
}

// sessionOutcome is what obtainSession hands back to the commands.
type sessionOutcome struct {
	Token  string
	Reused bool
}

// obtainSession returns a fresh saved token when allowed, otherwise logs in
// up to cfg.Attempts times. Each attempt gets its own client.
func obtainSession(ctx context.Context, cfg appConfig, log *logger, opts loginOptions) (*sessionOutcome, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	if opts.Reuse {
		saved, err := readSession(cfg.SessionFile)
		switch {
		case err == nil && saved.fresh(now(), cfg.SessionMaxAge):
			log.okf("reusing saved session (age %s)", saved.age(now()).Round(time.Second))
			return &sessionOutcome{Token: saved.Token, Reused: true}, nil
		case err == nil:
			log.infof("saved session is stale (age %s), logging in", saved.age(now()).Round(time.Second))
		default:
			log.debugf("no reusable session: %v", err)
		}
	}

	if err := cfg.validateLogin(); err != nil {
		return nil, err
	}

	auto, err := buildAutoSolver(cfg, log, opts.Interactive)
	if err != nil {
		return nil, err
	}
	var manual captchaSolver
	if opts.Interactive && opts.Stdin != nil {
		manual = newPromptSolver(opts.Stdin, opts.Prompt, cfg.CaptchaFile)
	}

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if i > 1 {
			log.infof("retrying in %s (%d/%d)", cfg.RetryDelay, i, attempts)
			if err := sleepCtx(ctx, cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		client, err := newPortalClient(cfg, log)
		if err != nil {
			return nil, err
		}
		run := &loginRun{
			client:      client,
			auto:        auto,
			manual:      manual,
			captchaFile: cfg.CaptchaFile,
			sessionFile: cfg.SessionFile,
			log:         log,
		}
		res, err := run.run(ctx)
		if err == nil {
			return &sessionOutcome{Token: res.Token}, nil
		}
		lastErr = err
		log.warnf("attempt %d/%d ended in %s: %v", i, attempts, run.stage, err)
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// buildAutoSolver assembles the automatic solvers enabled in cfg. It returns
// nil when none is.
func buildAutoSolver(cfg appConfig, log *logger, spin bool) (captchaSolver, error) {
	chain := &chainSolver{log: log}
	if cfg.OCR.Enabled {
		eng, err := newOCREngine(cfg.OCR)
		if err != nil {
			log.warnf("ocr disabled: %v", err)
		} else {
			chain.solvers = append(chain.solvers, namedSolver{name: "ocr", solver: &ocrSolver{engine: eng}})
		}
	}
	ai, err := newAISolver(cfg, log, spin)
	if err != nil {
		return nil, err
	}
	if ai != nil {
		chain.solvers = append(chain.solvers, namedSolver{name: "ai", solver: ai})
	}
	if len(chain.solvers) == 0 {
		return nil, nil
	}
	return chain, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
