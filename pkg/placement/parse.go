package placement

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNoJSON means the reply had no {...} object at all
	ErrNoJSON = errors.New("no JSON object in model response")
	// ErrNonFinite means a required field was missing or not a finite number
	ErrNonFinite = errors.New("non-finite placement field")
)

// RawEstimate is the model reply after decoding, before clamping.
// Missing or non-numeric fields are NaN.
type RawEstimate struct {
	CenterX    float64
	CenterY    float64
	HatWidth   float64
	AngleDeg   float64
	Confidence float64
}

var reTrailing = regexp.MustCompile(`,(\s*[}\]])`)

// ParseResponse extracts the placement object from a model reply that may wrap
// the JSON in prose or code fences.
func ParseResponse(raw string) (RawEstimate, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nanEstimate(), ErrNoJSON
	}

	obj := sanitizeModelJSON(raw[start : end+1])

	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nanEstimate(), fmt.Errorf("failed to parse model response: %w", err)
	}

	return RawEstimate{
		CenterX:    coerce(fields["centerX"]),
		CenterY:    coerce(fields["centerY"]),
		HatWidth:   coerce(fields["hatWidth"]),
		AngleDeg:   coerce(fields["angleDeg"]),
		Confidence: coerce(fields["confidence"]),
	}, nil
}

// Finite reports whether every field holds a usable number
func (r RawEstimate) Finite() bool {
	for _, v := range []float64{r.CenterX, r.CenterY, r.HatWidth, r.AngleDeg, r.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sanitizeModelJSON removes comments and trailing commas the models like to add
func sanitizeModelJSON(raw string) string {
	raw = stripComments(raw)
	raw = reTrailing.ReplaceAllString(raw, "$1")
	return strings.TrimSpace(raw)
}

// stripComments drops // and /* */ comments that sit outside string literals
func stripComments(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)
		case ch == '/' && i+1 < len(raw) && raw[i+1] == '/':
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			if i < len(raw) {
				b.WriteByte('\n')
			}
		case ch == '/' && i+1 < len(raw) && raw[i+1] == '*':
			end := strings.Index(raw[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// coerce turns a decoded JSON value into a float, NaN when it is not numeric
func coerce(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func nanEstimate() RawEstimate {
	nan := math.NaN()
	return RawEstimate{CenterX: nan, CenterY: nan, HatWidth: nan, AngleDeg: nan, Confidence: nan}
}
