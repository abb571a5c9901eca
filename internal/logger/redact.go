// Package logger provides log output helpers, including a writer that keeps
// client addresses and credentials out of log output.
package logger

import (
	"io"
	"regexp"
)

// ansi matches one SGR colour escape sequence.
const ansi = `\x1b\[[0-9;]*m`

var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement []byte
}{
	// Client address fields in JSON output: "client_ip":"203.0.113.7".
	{regexp.MustCompile(`"(client_ip|remote_addr|x_forwarded_for|x_real_ip)":"[^"]*"`), []byte(`"$1":"[REDACTED]"`)},
	// The same fields in console output: client_ip=203.0.113.7. ConsoleWriter
	// wraps the field name in colour codes, e.g. "\x1b[36mclient_ip=\x1b[0m".
	{
		regexp.MustCompile(`(^|[^A-Za-z0-9_]|` + ansi + `)(client_ip|remote_addr|x_forwarded_for|x_real_ip)=((?:` + ansi + `)*)("[^"]*"|[^\s\x1b]+)`),
		[]byte(`${1}${2}=${3}[REDACTED]`),
	},
	// Bearer tokens in Authorization headers or log fields.
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), []byte("bearer [REDACTED]")},
}

// RedactWriter masks sensitive values before passing output on.
type RedactWriter struct{ w io.Writer }

func NewRedactWriter(w io.Writer) *RedactWriter { return &RedactWriter{w: w} }

func (r *RedactWriter) Write(p []byte) (int, error) {
	out := p
	for _, pat := range redactPatterns {
		out = pat.re.ReplaceAll(out, pat.replacement)
	}
	_, err := r.w.Write(out)
	return len(p), err
}
