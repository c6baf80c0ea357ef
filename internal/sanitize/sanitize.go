// Package sanitize redacts secrets from operator-visible strings.
//
// Every warning, log message, and error detail that can leave the process
// goes through String first. The patterns cover the credentials this
// service actually handles: OpenAI-style API keys, connection strings,
// and env-style assignments of sensitive variables.
package sanitize

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`),
	regexp.MustCompile(`gpt-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`postgres(ql)?://[^\s"']+`),
	regexp.MustCompile(`redis://[^\s"']+`),
	regexp.MustCompile(`DATABASE_URL=[^\s"']+`),
	regexp.MustCompile(`AGENT_API_KEY=[^\s"']+`),
	regexp.MustCompile(`OPENAI_API_KEY=[^\s"']+`),
	regexp.MustCompile(`(?i)(password|token)=[^\s&"']+`),
}

const mask = "[redacted]"

// String returns s with all recognized secret material replaced.
func String(s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllString(s, mask)
	}
	return s
}

// Error is a convenience wrapper for sanitizing error messages. A nil
// error yields an empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
