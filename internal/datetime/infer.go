package datetime

import (
	"fmt"
	"strings"
	"time"
)

type precision int

const (
	precisionSeconds precision = iota
	precisionMillis
)

func (p precision) epoch(t time.Time) int64 {
	if p == precisionMillis {
		return t.Unix()*1000 + int64(t.Nanosecond()/int(time.Millisecond))
	}
	return t.Unix()
}

// inputShape is the heuristic classification of user text
type inputShape int

const (
	shapeUnknown inputShape = iota
	shapeDateOnly
	shapeTimeOnly
	shapeFull
)

func classifyInput(s string) inputShape {
	hasDate := strings.ContainsAny(s, "-/年@")
	hasTime := strings.Contains(s, ":")

	switch {
	case hasDate && hasTime:
		return shapeFull
	case hasDate:
		return shapeDateOnly
	case hasTime:
		return shapeTimeOnly
	default:
		return shapeUnknown
	}
}

// inferDateFormat picks a date layout from the first separator found, in fixed priority
func inferDateFormat(s string) string {
	switch {
	case strings.Contains(s, "-"):
		return "%Y-%m-%d"
	case strings.Contains(s, "/"):
		return "%Y/%m/%d"
	case strings.Contains(s, "@"):
		return "%Y@%m@%d"
	case strings.Contains(s, "年"):
		return "%Y年%m月%d日"
	default:
		return "%Y-%m-%d"
	}
}

func inferTimeFormat(s string) string {
	if strings.Count(s, ":") == 1 {
		return "%H:%M"
	}
	return "%H:%M:%S"
}

// textToEpoch is the shared heuristic behind TextToTs and TextToMs
func (c *Converter) textToEpoch(text, format string, unit precision) (int64, error) {
	shape := classifyInput(text)

	if t, ok := c.parseByShape(text, shape); ok {
		return unit.epoch(t), nil
	}

	if p, err := compilePattern(format); err == nil {
		if t, err := p.parseDateTime(text, c.parse); err == nil {
			return unit.epoch(t), nil
		}
	}

	switch shape {
	case shapeDateOnly:
		return 0, fmt.Errorf("invalid date format, please follow the selected format \"%s\", e.g. \"2023-04-01\"", format)
	case shapeTimeOnly:
		return 0, fmt.Errorf("invalid time format, please follow the selected format \"%s\", e.g. \"15:30:45\"", format)
	default:
		return 0, fmt.Errorf("invalid datetime format, please follow the selected format \"%s\", e.g. \"2023-04-01 15:30:45\"", format)
	}
}

func (c *Converter) parseByShape(text string, shape inputShape) (time.Time, bool) {
	switch shape {
	case shapeDateOnly:
		p, err := compilePattern(inferDateFormat(text))
		if err != nil {
			return time.Time{}, false
		}
		t, err := p.parseDate(text, c.parse)
		return t, err == nil

	case shapeTimeOnly:
		p, err := compilePattern(inferTimeFormat(text))
		if err != nil {
			return time.Time{}, false
		}
		hour, minute, second, nanos, err := p.parseClock(text)
		if err != nil {
			return time.Time{}, false
		}
		y, m, d := c.now().In(c.display).Date()
		return time.Date(y, m, d, hour, minute, second, nanos, c.parse), true

	case shapeFull:
		for _, p := range cannedPatterns {
			if t, err := p.parseDateTime(text, c.parse); err == nil {
				return t, true
			}
		}
	}

	return time.Time{}, false
}
