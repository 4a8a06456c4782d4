package redact

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const mask = "[REDACTED]"

// rule rewrites one secret shape. Rules run in order; later rules see the
// output of earlier ones.
type rule struct {
	re   *regexp.Regexp
	repl string
	fn   func(string) string
}

var rules = []rule{
	{re: regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + mask},
	{re: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + mask},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`), repl: "${1}REDACTED${3}"},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + mask},
	{re: regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`), repl: "sk-" + mask},
	{re: regexp.MustCompile(`(?i)(x-api-key|x-watcher-key)\s*[:=]\s*([A-Za-z0-9._\-+/=]+)`), repl: "${1}" + mask},
	{re: keyValueRe, fn: maskKeyValue},
	{re: regexp.MustCompile(`https?://[^\s"'<>]+`), fn: redactURL},
}

var (
	keyValueRe = regexp.MustCompile(`(?i)(key|token|secret)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`)

	emailRe     = regexp.MustCompile(`(?i)[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	longTokenRe = regexp.MustCompile(`[A-Za-z0-9_\-]{20,}`)
)

// String redacts known secret patterns from free-form strings.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		if r.fn != nil {
			s = r.re.ReplaceAllStringFunc(s, r.fn)
		} else {
			s = r.re.ReplaceAllString(s, r.repl)
		}
	}
	for strings.Contains(s, mask+mask) {
		s = strings.ReplaceAll(s, mask+mask, mask)
	}
	return s
}

// PII masks e-mail addresses and long opaque tokens on top of String.
func PII(s string) string {
	s = emailRe.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED_TOKEN]")
	return String(s)
}

// Error is a zap field carrying the redacted error text.
func Error(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", String(err.Error()))
}

// Field is a zap string field with the value redacted.
func Field(key, value string) zap.Field {
	return zap.String(key, String(value))
}

func maskKeyValue(m string) string {
	if strings.Contains(m, mask) {
		return m
	}
	sub := keyValueRe.FindStringSubmatch(m)
	if sub == nil {
		return m
	}
	return sub[1] + "=" + mask
}

// redactURL keeps scheme, host and the last path segment. Query, fragment,
// userinfo and intermediate segments are dropped.
func redactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	tail := "[REDACTED_PATH]"
	if !strings.HasSuffix(raw, "/") {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			tail = base
		}
	}
	return u.Scheme + "://" + u.Host + "/" + tail
}
