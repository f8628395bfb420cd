package extract

import (
	"encoding/json"
	"strings"
)

// addressPayload is the structured object the model is asked to return.
// The pointer distinguishes a missing field from an empty one.
type addressPayload struct {
	RecipientAddress *string `json:"recipient_address"`
}

// ParseAddressPayload pulls the recipient address out of model output. The
// output may wrap the JSON object in code fences or commentary; only the
// first balanced {...} span is decoded. It reports false when no object is
// found, the object does not decode, or recipient_address is missing,
// not a string, or blank.
func ParseAddressPayload(text string) (string, bool) {
	obj, ok := FirstObject(stripFences(text))
	if !ok {
		return "", false
	}

	var p addressPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return "", false
	}
	if p.RecipientAddress == nil {
		return "", false
	}
	addr := strings.TrimSpace(*p.RecipientAddress)
	if addr == "" {
		return "", false
	}
	return addr, true
}

// FirstObject returns the first balanced {...} span in text. Braces inside
// JSON string literals are ignored.
func FirstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	} else {
		return text
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
