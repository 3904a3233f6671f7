package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively as substrings of a field key.
var sensitiveKeys = []string{
	"MOCHI_API_PASSWORD",
	"MOCHI_SESSION_SECRET",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
	"AUTHORIZATION",
	"COOKIE",
}

var sensitiveValues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)basic\s+[a-z0-9+/=]{8,}`),
	regexp.MustCompile(`(?i)(password|secret|token|api_key)\s*[:=]\s*[^\s,;&]+`),
	regexp.MustCompile(`(?i)(mochi_session)=[^\s;]+`),
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
}

// IsSensitiveKey reports whether a field key names a secret.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// RedactString masks credentials embedded in free text.
func RedactString(s string) string {
	for _, re := range sensitiveValues {
		s = re.ReplaceAllString(s, Redacted)
	}
	return s
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		r, changed := redactField(f)
		if changed && out == nil {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields[:i])
		}
		if out != nil {
			out[i] = r
		}
	}
	if out == nil {
		return fields
	}
	return out
}

func redactField(f zapcore.Field) (zapcore.Field, bool) {
	switch {
	case IsSensitiveKey(f.Key):
		return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: Redacted}, true
	case f.Type == zapcore.StringType:
		if v := RedactString(f.String); v != f.String {
			f.String = v
			return f, true
		}
	case f.Type == zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			if v := RedactString(err.Error()); v != err.Error() {
				return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: v}, true
			}
		}
	}
	return f, false
}

// redactingCore masks sensitive fields and message text before they reach
// the wrapped core.
type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps core with secret redaction.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactString(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}
