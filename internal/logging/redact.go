package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// secretAttrKeys are attribute and map keys whose values are always masked.
var secretAttrKeys = map[string]bool{
	"api_key":        true,
	"apikey":         true,
	"authorization":  true,
	"openai_api_key": true,
	"glossa_api_key": true,
	"token":          true,
	"secret":         true,
}

// inlineSecretRe finds key-shaped tokens and bearer credentials inside free
// text such as provider error bodies.
var inlineSecretRe = regexp.MustCompile(`(?i)\b(?:bearer\s+)?sk-[A-Za-z0-9_\-]{4,}`)

// RedactValue masks a whole secret, keeping its last four characters.
func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "bearer ") {
		return "Bearer " + mask(strings.TrimSpace(trimmed[7:]))
	}
	return mask(trimmed)
}

// RedactText masks secrets embedded in otherwise harmless text.
func RedactText(text string) string {
	return inlineSecretRe.ReplaceAllStringFunc(text, RedactValue)
}

// RedactAny walks maps and slices, masking values under secret keys and
// secrets embedded in strings.
func RedactAny(value any) any {
	switch typed := value.(type) {
	case string:
		return RedactText(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(fmt.Sprint(val))
				continue
			}
			out[key] = RedactAny(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(val)
				continue
			}
			out[key] = RedactText(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
	case []string:
		out := make([]string, len(typed))
		for i, val := range typed {
			out[i] = RedactText(val)
		}
		return out
	default:
		return value
	}
}

// redactAttr is a slog ReplaceAttr hook shared by every handler this
// package builds.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		return slog.String(a.Key, RedactValue(a.Value.String()))
	}
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); inlineSecretRe.MatchString(s) {
			return slog.String(a.Key, RedactText(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, RedactText(err.Error()))
		}
	}
	return a
}

func isSecretKey(key string) bool {
	return secretAttrKeys[strings.ToLower(strings.TrimSpace(key))]
}

func mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
