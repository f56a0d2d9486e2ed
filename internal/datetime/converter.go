// Package datetime converts between Unix timestamps and formatted wall-clock text.
//
// Text produced for display is rendered in the local zone. Text read back into a
// timestamp is interpreted as Beijing wall-clock time (UTC+08:00), whatever the
// local zone is. The asymmetry is intentional: the tool's users enter China
// times. Use WithParseLocation to change it.
package datetime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Beijing is the fixed UTC+08:00 zone that naive input is read in
var Beijing = time.FixedZone("UTC+08:00", 8*60*60)

// ErrInvalidTimestamp is returned for non-integer input and unrepresentable instants
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// allowedFormatChars is the full character set a user format may use
const allowedFormatChars = "%YymdHMS-/@年月日: .f"

var formatSpecifiers = []string{"%Y", "%y", "%m", "%d", "%H", "%M", "%S"}

// Instants outside this range cannot be rendered
var (
	minEpoch = time.Date(-262144, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxEpoch = time.Date(262143, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// Converter holds the user-chosen format and performs conversions
type Converter struct {
	mu      sync.RWMutex
	format  string
	display *time.Location
	parse   *time.Location
	now     func() time.Time
}

// Option configures a Converter
type Option func(*Converter)

// WithDisplayLocation sets the zone text is rendered in (default time.Local)
func WithDisplayLocation(loc *time.Location) Option {
	return func(c *Converter) { c.display = loc }
}

// WithParseLocation sets the zone naive input is interpreted in (default Beijing)
func WithParseLocation(loc *time.Location) Option {
	return func(c *Converter) { c.parse = loc }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// NewConverter creates a converter using DefaultFormat
func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		format:  DefaultFormat,
		display: time.Local,
		parse:   Beijing,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Format returns the current user format
func (c *Converter) Format() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// SetFormat validates format and stores it
func (c *Converter) SetFormat(format string) error {
	if err := c.ValidateFormat(format); err != nil {
		return err
	}
	c.mu.Lock()
	c.format = format
	c.mu.Unlock()
	return nil
}

// SelectFormat stores the canned format at index and returns it.
// Table entries are trusted and skip the character check, which would
// otherwise reject the digit in "%3f".
func (c *Converter) SelectFormat(index int) string {
	format := CannedFormat(index)
	c.mu.Lock()
	c.format = format
	c.mu.Unlock()
	return format
}

// ValidateFormat checks that format is non-empty, uses only supported
// characters, contains at least one specifier and renders to non-empty text.
func (c *Converter) ValidateFormat(format string) error {
	if format == "" {
		return errors.New("time format must not be empty")
	}

	for _, r := range format {
		if !strings.ContainsRune(allowedFormatChars, r) {
			return fmt.Errorf("invalid time-format character: %c", r)
		}
	}

	hasSpecifier := false
	for _, spec := range formatSpecifiers {
		if strings.Contains(format, spec) {
			hasSpecifier = true
			break
		}
	}
	if !hasSpecifier {
		return errors.New("time format must contain one of %Y %y %m %d %H %M %S")
	}

	if c.NowText(format) == "" {
		return errors.New("invalid time format")
	}

	return nil
}

// NowText renders the current local time; it returns "" when format cannot be rendered
func (c *Converter) NowText(format string) string {
	p, err := compilePattern(format)
	if err != nil {
		return ""
	}
	return p.format(c.now().In(c.display))
}

// NowUnix returns the current Unix time in seconds
func (c *Converter) NowUnix() int64 {
	return c.now().Unix()
}

// NowUnixMilli returns the current Unix time in milliseconds
func (c *Converter) NowUnixMilli() int64 {
	return c.now().UnixMilli()
}

// TsToText renders a Unix timestamp in seconds as local time
func (c *Converter) TsToText(seconds int64, format string) (string, error) {
	return c.render(seconds, 0, format)
}

// MsToText renders a Unix timestamp in milliseconds as local time
func (c *Converter) MsToText(milliseconds int64, format string) (string, error) {
	seconds := milliseconds / 1000
	rem := milliseconds % 1000
	if rem < 0 {
		rem += 1000
		seconds--
	}
	return c.render(seconds, rem*int64(time.Millisecond), format)
}

func (c *Converter) render(seconds, nanos int64, format string) (string, error) {
	if seconds < minEpoch || seconds > maxEpoch {
		return "", ErrInvalidTimestamp
	}
	p, err := compilePattern(format)
	if err != nil {
		return "", fmt.Errorf("invalid time format %q: %w", format, err)
	}
	return p.format(time.Unix(seconds, nanos).In(c.display)), nil
}

// TextToTs parses text into a Unix timestamp in seconds, sub-second part discarded
func (c *Converter) TextToTs(text, format string) (int64, error) {
	return c.textToEpoch(text, format, precisionSeconds)
}

// TextToMs parses text into a Unix timestamp in milliseconds
func (c *Converter) TextToMs(text, format string) (int64, error) {
	return c.textToEpoch(text, format, precisionMillis)
}

// ParseInteger parses a signed 64-bit timestamp
func ParseInteger(text string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	return v, nil
}

// ConvertTimestamp turns seconds text into display text using the current format
func (c *Converter) ConvertTimestamp(text string) string {
	return c.convertInteger(text, c.TsToText)
}

// ConvertMsTimestamp turns milliseconds text into display text using the current format
func (c *Converter) ConvertMsTimestamp(text string) string {
	return c.convertInteger(text, c.MsToText)
}

func (c *Converter) convertInteger(text string, render func(int64, string) (string, error)) string {
	ts, err := ParseInteger(text)
	if err != nil {
		return err.Error()
	}
	out, err := render(ts, c.Format())
	if err != nil {
		return ErrInvalidTimestamp.Error()
	}
	return out
}

// ConvertToTimestamp turns datetime text into seconds text, or an error message
func (c *Converter) ConvertToTimestamp(text string) string {
	ts, err := c.TextToTs(text, c.Format())
	if err != nil {
		return err.Error()
	}
	return strconv.FormatInt(ts, 10)
}

// ConvertToMsTimestamp turns datetime text into milliseconds text, or an error message
func (c *Converter) ConvertToMsTimestamp(text string) string {
	ts, err := c.TextToMs(text, c.Format())
	if err != nil {
		return err.Error()
	}
	return strconv.FormatInt(ts, 10)
}
