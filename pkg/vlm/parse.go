package vlm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Models occasionally wrap JSON in markdown fences, leak prose around it, or
// truncate the tail of a long object. The helpers below recover a usable
// payload from such output instead of failing the whole segment.

var fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")
var trailingCommaRe = regexp.MustCompile(`,\s*([\]\}])`)
var bulletRe = regexp.MustCompile(`^[-*]\s+`)
var numberedRe = regexp.MustCompile(`^\d+[\.)]\s+`)
var quotedRe = regexp.MustCompile(`"([^"\\]*(?:\\.[^"\\]*)*)"`)

// DecodeMenuPayload parses model output into a MenuPayload, repairing
// non-strict JSON where possible.
func DecodeMenuPayload(text string) (MenuPayload, error) {
	var out MenuPayload
	if err := decodeLoose(text, &out); err != nil {
		return MenuPayload{}, err
	}
	return out, nil
}

// DecodeDishStrings parses model output into a DishStrings payload. When
// every JSON repair fails it falls back to scraping quoted or listed names
// out of the raw text, since losing a whole segment is worse than a noisy
// item that dedup will absorb.
func DecodeDishStrings(text string) (DishStrings, error) {
	var out DishStrings
	if err := decodeLoose(text, &out); err != nil {
		scraped := scrapeDishStrings(text)
		if len(scraped) == 0 {
			return DishStrings{}, err
		}
		return DishStrings{DishStrings: scraped}, nil
	}
	return out, nil
}

func decodeLoose(text string, v any) error {
	stripped := stripFences(strings.TrimSpace(text))

	if err := json.Unmarshal([]byte(stripped), v); err == nil {
		return nil
	}

	candidate := firstBalancedJSON(stripped)
	if candidate == "" {
		candidate = stripped
	}
	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	repaired := escapeNewlinesInStrings(candidate)
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	if err := json.Unmarshal([]byte(repaired), v); err == nil {
		return nil
	}

	return json.Unmarshal([]byte(appendMissingClosers(repaired)), v)
}

func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

// firstBalancedJSON returns the first balanced JSON object or array in the
// text, or "" when none is found.
func firstBalancedJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// escapeNewlinesInStrings replaces raw newlines inside quoted strings with
// \n escapes.
func escapeNewlinesInStrings(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			case ch == '\n' || ch == '\r':
				b.WriteString(`\n`)
				continue
			}
			b.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = true
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// appendMissingClosers closes any unbalanced objects/arrays left open by a
// truncated response.
func appendMissingClosers(text string) string {
	var stack []byte
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if (top == '{' && ch == '}') || (top == '[' && ch == ']') {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// scrapeDishStrings pulls plausible dish names out of non-JSON text: quoted
// strings first, then bullet/numbered lines.
func scrapeDishStrings(text string) []string {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil
	}

	var candidates []string
	for _, m := range quotedRe.FindAllStringSubmatch(raw, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) > 0 {
		var filtered []string
		for _, s := range candidates {
			if len([]rune(s)) >= 2 {
				filtered = append(filtered, s)
			}
		}
		return dedupePreserveOrder(filtered)
	}

	for _, ln := range strings.Split(raw, "\n") {
		ln = strings.TrimSpace(ln)
		ln = bulletRe.ReplaceAllString(ln, "")
		ln = numberedRe.ReplaceAllString(ln, "")
		if ln = strings.TrimSpace(ln); ln != "" {
			candidates = append(candidates, ln)
		}
	}
	return dedupePreserveOrder(candidates)
}

func dedupePreserveOrder(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
