package datetime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"
)

// fracKind is a fractional-second specifier. timefmt reads %f as
// microseconds, so these are rendered and scanned here.
type fracKind int

const (
	fracNone     fracKind = iota
	fracNanos             // %f, nine digits
	fracFixed             // %3f %6f %9f
	fracDotFixed          // %.3f %.6f %.9f
	fracDotAuto           // %.f, omitted when zero
)

// segment is either a run of timefmt layout or one fraction specifier
type segment struct {
	layout string
	frac   fracKind
	digits int
}

// field bits record which calendar fields a pattern can read
const (
	hasYear = 1 << iota
	hasMonth
	hasDay
	hasHour
	hasMinute
)

// pattern is a compiled time format such as "%Y-%m-%d %H:%M:%S"
type pattern struct {
	source   string
	segments []segment
	fields   int
	fracs    int
}

var (
	errNotEnough  = errors.New("input is missing date or time fields")
	errImpossible = errors.New("input contains an impossible value")
	errMismatch   = errors.New("input does not match format")
)

// compilePattern checks format against the supported specifiers and splits it
// into timefmt layouts and fraction fields
func compilePattern(format string) (*pattern, error) {
	p := &pattern{source: format}

	var layout strings.Builder
	flush := func() {
		if layout.Len() > 0 {
			p.segments = append(p.segments, segment{layout: layout.String()})
			layout.Reset()
		}
	}
	addFrac := func(kind fracKind, digits int) {
		flush()
		p.segments = append(p.segments, segment{frac: kind, digits: digits})
		p.fracs++
	}

	// '%' never occurs inside a multi-byte rune, so a byte scan is safe
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			layout.WriteByte(format[i])
			continue
		}
		if i+1 >= len(format) {
			return nil, fmt.Errorf("incomplete specifier at end of %q", format)
		}
		i++

		c := format[i]
		switch {
		case c == '%':
			layout.WriteString("%%")
		case c == '-':
			if i+1 >= len(format) {
				return nil, fmt.Errorf("incomplete specifier at end of %q", format)
			}
			i++
			bit, ok := fieldBit(format[i])
			if !ok {
				return nil, fmt.Errorf("padding modifier not allowed on %%%c in %q", format[i], format)
			}
			p.fields |= bit
			layout.WriteString("%-")
			layout.WriteByte(format[i])
		case c == 'f':
			addFrac(fracNanos, 9)
		case strings.IndexByte("369", c) >= 0 && i+1 < len(format) && format[i+1] == 'f':
			addFrac(fracFixed, int(c-'0'))
			i++
		case c == '.':
			switch {
			case i+1 < len(format) && format[i+1] == 'f':
				addFrac(fracDotAuto, 0)
				i++
			case i+2 < len(format) && strings.IndexByte("369", format[i+1]) >= 0 && format[i+2] == 'f':
				addFrac(fracDotFixed, int(format[i+1]-'0'))
				i += 2
			default:
				return nil, fmt.Errorf("unsupported specifier %%. in %q", format)
			}
		default:
			bit, ok := fieldBit(c)
			if !ok {
				return nil, fmt.Errorf("unsupported specifier %%%c in %q", c, format)
			}
			p.fields |= bit
			layout.WriteByte('%')
			layout.WriteByte(c)
		}
	}
	flush()

	return p, nil
}

// fieldBit maps a numeric specifier to its field; %S reads seconds, which default to zero
func fieldBit(c byte) (int, bool) {
	switch c {
	case 'Y', 'y':
		return hasYear, true
	case 'm':
		return hasMonth, true
	case 'd':
		return hasDay, true
	case 'H':
		return hasHour, true
	case 'M':
		return hasMinute, true
	case 'S':
		return 0, true
	}
	return 0, false
}

// format renders t using the pattern
func (p *pattern) format(t time.Time) string {
	var b strings.Builder
	for _, seg := range p.segments {
		if seg.frac == fracNone {
			b.WriteString(timefmt.Format(t, seg.layout))
			continue
		}
		b.WriteString(formatFraction(t.Nanosecond(), seg.frac, seg.digits))
	}
	return b.String()
}

func formatFraction(nanos int, kind fracKind, digits int) string {
	padded := fmt.Sprintf("%09d", nanos)
	switch kind {
	case fracNanos:
		return padded
	case fracFixed:
		return padded[:digits]
	case fracDotFixed:
		return "." + padded[:digits]
	default:
		switch {
		case nanos == 0:
			return ""
		case nanos%1_000_000 == 0:
			return "." + padded[:3]
		case nanos%1_000 == 0:
			return "." + padded[:6]
		default:
			return "." + padded
		}
	}
}

// scanFraction reads the fraction at the start of s and returns nanoseconds
// and the bytes consumed
func scanFraction(s string, kind fracKind, digits int) (int, int, bool) {
	start := 0
	if kind == fracDotFixed || kind == fracDotAuto {
		if !strings.HasPrefix(s, ".") {
			return 0, 0, false
		}
		start = 1
	}

	n := start
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	run := s[start:n]

	switch kind {
	case fracFixed, fracDotFixed:
		if len(run) < digits {
			return 0, 0, false
		}
		run = run[:digits]
		n = start + digits
	case fracNanos, fracDotAuto:
		if len(run) == 0 {
			return 0, 0, false
		}
		if len(run) > 9 {
			run = run[:9]
		}
	}

	v := 0
	for i := 0; i < len(run); i++ {
		v = v*10 + int(run[i]-'0')
	}
	for i := len(run); i < 9; i++ {
		v *= 10
	}
	return v, n, true
}

// parse reads s in loc. The fraction, if any, is lifted out of both the
// input and the layout before timefmt sees them.
func (p *pattern) parse(s string, loc *time.Location) (time.Time, error) {
	s = collapseSpace(s)

	if p.fracs == 0 {
		return p.parseLayout(s, p.layoutWithout(-1), loc)
	}
	if p.fracs > 1 {
		return time.Time{}, errMismatch
	}

	idx := 0
	for i, seg := range p.segments {
		if seg.frac != fracNone {
			idx = i
		}
	}
	seg := p.segments[idx]
	layout := p.layoutWithout(idx)

	err := errMismatch
	for k := 0; k < len(s); k++ {
		nanos, n, ok := scanFraction(s[k:], seg.frac, seg.digits)
		if !ok {
			continue
		}
		var t time.Time
		if t, err = p.parseLayout(s[:k]+s[k+n:], layout, loc); err == nil {
			return t.Add(time.Duration(nanos)), nil
		}
	}
	if seg.frac == fracDotAuto {
		return p.parseLayout(s, layout, loc)
	}
	return time.Time{}, err
}

// parseLayout runs timefmt and rejects values it normalized, such as
// February 30 or second 60
func (p *pattern) parseLayout(s, layout string, loc *time.Location) (time.Time, error) {
	t, err := timefmt.ParseInLocation(s, layout, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errMismatch, err)
	}
	if timefmt.Format(t, unpadded(layout)) != trimZeros(s) {
		return time.Time{}, errImpossible
	}
	return t, nil
}

// layoutWithout joins the timefmt layouts, skipping segment skip, for parsing
func (p *pattern) layoutWithout(skip int) string {
	var b strings.Builder
	for i, seg := range p.segments {
		if i == skip || seg.frac != fracNone {
			continue
		}
		b.WriteString(strings.ReplaceAll(seg.layout, "%-", "%"))
	}
	return collapseSpace(b.String())
}

// parseDateTime reads a naive date and time and places it in loc
func (p *pattern) parseDateTime(s string, loc *time.Location) (time.Time, error) {
	const need = hasYear | hasMonth | hasDay | hasHour | hasMinute
	if p.fields&need != need {
		return time.Time{}, errNotEnough
	}
	return p.parse(s, loc)
}

// parseDate reads a naive date at midnight in loc
func (p *pattern) parseDate(s string, loc *time.Location) (time.Time, error) {
	const need = hasYear | hasMonth | hasDay
	if p.fields&need != need {
		return time.Time{}, errNotEnough
	}
	t, err := p.parse(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
}

// parseClock reads a naive time of day
func (p *pattern) parseClock(s string) (hour, minute, second, nanos int, err error) {
	const need = hasHour | hasMinute
	if p.fields&need != need {
		return 0, 0, 0, 0, errNotEnough
	}
	t, err := p.parse(s, time.UTC)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	hour, minute, second = t.Clock()
	return hour, minute, second, t.Nanosecond(), nil
}

// unpadded switches every numeric specifier of a parse layout to its no-pad form
func unpadded(layout string) string {
	var b strings.Builder
	for i := 0; i < len(layout); i++ {
		b.WriteByte(layout[i])
		if layout[i] != '%' || i+1 >= len(layout) {
			continue
		}
		i++
		if _, ok := fieldBit(layout[i]); ok {
			b.WriteByte('-')
		}
		b.WriteByte(layout[i])
	}
	return b.String()
}

// trimZeros drops leading zeros from every digit run, keeping a lone "0"
func trimZeros(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] < '0' || s[i] > '9' {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		run := strings.TrimLeft(s[i:j], "0")
		if run == "" {
			run = "0"
		}
		b.WriteString(run)
		i = j
	}
	return b.String()
}

// collapseSpace trims s and folds whitespace runs to one space
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
