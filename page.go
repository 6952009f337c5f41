package main

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Login page markup contract.
const (
	csrfFieldName = "REQ_CSRF_TOKEN"
	saltVariable  = "USER_SALT"
)

// errTokensMissing indicates the login page lacked the CSRF field or the salt.
var errTokensMissing = errors.New("login tokens not found")

// reUserSalt matches the inline assignment USER_SALT = '...'.
var reUserSalt = regexp.MustCompile(saltVariable + `\s*=\s*'([^']+)'`)

// loginTokens holds the per-page values a login submission depends on.
type loginTokens struct {
	CSRF string
	Salt string
}

func (t loginTokens) complete() bool {
	return t.CSRF != "" && t.Salt != ""
}

// extractLoginTokens reads the CSRF hidden input and the script-embedded salt
// from login page HTML. It returns errTokensMissing, along with whatever was
// found, when either value is absent.
func extractLoginTokens(r io.Reader) (loginTokens, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return loginTokens{}, fmt.Errorf("parse login page: %w", err)
	}

	var out loginTokens
	if v, ok := doc.Find(`input[name="` + csrfFieldName + `"]`).First().Attr("value"); ok {
		out.CSRF = v
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, saltVariable) {
			return true
		}
		if m := reUserSalt.FindStringSubmatch(text); len(m) == 2 {
			out.Salt = m[1]
			return false
		}
		return true
	})

	if out.complete() {
		return out, nil
	}

	var missing []string
	if out.CSRF == "" {
		missing = append(missing, csrfFieldName)
	}
	if out.Salt == "" {
		missing = append(missing, saltVariable)
	}
	return out, fmt.Errorf("%w: %s", errTokensMissing, strings.Join(missing, ", "))
}
