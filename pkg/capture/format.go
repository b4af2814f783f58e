package capture

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Format selects how message metadata is extracted.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name; empty selects auto.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid format %q: expected auto, text or json", s)
	}
}

// Metadata extracts top-level scalar fields from a JSON object message.
// It returns nil for text format, for messages that are not JSON objects,
// and in auto mode for anything that does not start with '{'.
func Metadata(format Format, message string) map[string]string {
	switch format {
	case FormatText:
		return nil
	case FormatAuto, "":
		if !strings.HasPrefix(message, "{") {
			return nil
		}
	}
	if !gjson.Valid(message) {
		return nil
	}
	doc := gjson.Parse(message)
	if !doc.IsObject() {
		return nil
	}

	var md map[string]string
	doc.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			if md == nil {
				md = make(map[string]string)
			}
			md[key.String()] = value.String()
		}
		return true
	})
	return md
}
