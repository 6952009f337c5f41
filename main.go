package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
)

const version = "0.1.0"

// Command names.
const (
	cmdLogin  = "login"
	cmdStatus = "status"
	cmdServe  = "serve"
	cmdHelp   = "help"
)

func main() {
	_ = godotenv.Load()
	log := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, log, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.err(err.Error())
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return nil
	}

	switch args[0] {
	case cmdHelp, "-h", "--help":
		printUsage(stdout)
		return nil
	case cmdLogin:
		return runLogin(ctx, log, args[1:], stdin, stdout)
	case cmdStatus:
		return runStatus(log, args[1:], stdout)
	case cmdServe:
		return runServe(ctx, log, args[1:])
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "portal-login: portal session helper")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  portal-login login  [--config PATH] [--reuse] [--no-prompt] [--attempts N] [--verbose]")
	_, _ = fmt.Fprintln(w, "  portal-login status [--config PATH]")
	_, _ = fmt.Fprintln(w, "  portal-login serve  [--config PATH] [--verbose]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Options:")
	_, _ = fmt.Fprintln(w, "  --config    Path to config JSON (default: portal.json, optional)")
	_, _ = fmt.Fprintln(w, "  --reuse     Skip login while the saved session is fresh")
	_, _ = fmt.Fprintln(w, "  --no-prompt Never ask for the captcha on stdin")
	_, _ = fmt.Fprintln(w, "  --attempts  Full login attempts on captcha rejection (default: config, 1)")
	_, _ = fmt.Fprintln(w, "  --verbose   Debug logging")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Environment:")
	_, _ = fmt.Fprintln(w, "  PORTAL_BASE_URL, PORTAL_USERNAME, PORTAL_PASSWORD, PORTAL_AI__API_KEY, ...")
	_, _ = fmt.Fprintln(w, "  OPENAI_API_KEY  API key for the AI captcha solver")
	_, _ = fmt.Fprintln(w, "  NO_COLOR        Disable colored output")
}

func runLogin(ctx context.Context, log *logger, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(cmdLogin, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath string
		reuse      bool
		noPrompt   bool
		attempts   int
		verbose    bool
	)
	fs.StringVar(&configPath, "config", defaultConfigPath, "config path")
	fs.BoolVar(&reuse, "reuse", false, "reuse a fresh saved session")
	fs.BoolVar(&noPrompt, "no-prompt", false, "disable manual captcha entry")
	fs.IntVar(&attempts, "attempts", 0, "login attempts")
	fs.BoolVar(&verbose, "verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if attempts < 0 {
		return errors.New("--attempts must be >= 0")
	}
	if verbose {
		log.setVerbose()
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if attempts > 0 {
		cfg.Attempts = attempts
	}
	log.infof("portal: %s user: %s", cfg.BaseURL, cfg.Username)

	start := time.Now()
	out, err := obtainSession(ctx, cfg, log, loginOptions{
		Reuse:       reuse,
		Interactive: !noPrompt,
		Stdin:       stdin,
		Prompt:      os.Stderr,
	})
	if err != nil {
		return err
	}
	if out.Token == "" {
		log.okf("done: logged in without a session cookie (elapsed %s)", time.Since(start).Round(10*time.Millisecond))
		return nil
	}
	log.okf("done: elapsed %s", time.Since(start).Round(10*time.Millisecond))
	_, _ = fmt.Fprintln(stdout, out.Token)
	return nil
}

func runStatus(log *logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(cmdStatus, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var configPath string
	fs.StringVar(&configPath, "config", defaultConfigPath, "config path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	saved, err := readSession(cfg.SessionFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.warnf("no session saved at %s", cfg.SessionFile)
			return nil
		}
		return err
	}

	now := time.Now()
	state := "stale"
	if saved.fresh(now, cfg.SessionMaxAge) {
		state = "fresh"
	}
	log.infof("session %s: age=%s max_age=%s", state, saved.age(now).Round(time.Second), cfg.SessionMaxAge)
	_, _ = fmt.Fprintf(stdout, "%s\t%s\t%s\n", saved.Token, state, saved.SavedAt.Format(time.RFC3339))
	return nil
}

func runServe(ctx context.Context, log *logger, args []string) error {
	fs := flag.NewFlagSet(cmdServe, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath string
		verbose    bool
	)
	fs.StringVar(&configPath, "config", defaultConfigPath, "config path")
	fs.BoolVar(&verbose, "verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if verbose {
		log.setVerbose()
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.validateLogin(); err != nil {
		return err
	}
	return serveMCP(ctx, cfg, log)
}
