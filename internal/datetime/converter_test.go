package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedNow is 2023-04-01 15:30:45.678 in Beijing
var fixedNow = time.Date(2023, time.April, 1, 15, 30, 45, 678_000_000, Beijing)

func newTestConverter() *Converter {
	return NewConverter(
		WithDisplayLocation(Beijing),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func TestTextToTs(t *testing.T) {
	c := newTestConverter()

	t.Run("Should interpret full datetime as Beijing time", func(t *testing.T) {
		ts, err := c.TextToTs("2023-04-01 15:30:45", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680334245), ts)
	})

	t.Run("Should parse date-only input at Beijing midnight", func(t *testing.T) {
		tests := []struct {
			input string
		}{
			{"2023/04/01"},
			{"2023-04-01"},
			{"2023@04@01"},
			{"2023年04月01日"},
			{"2023-4-1"},
		}

		for _, tt := range tests {
			t.Run(tt.input, func(t *testing.T) {
				ts, err := c.TextToTs(tt.input, "%H:%M")
				require.NoError(t, err)
				assert.Equal(t, int64(1680278400), ts)
			})
		}
	})

	t.Run("Should use today's date for time-only input", func(t *testing.T) {
		ts, err := c.TextToTs("08:00:00", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680278400+8*3600), ts)

		ts, err = c.TextToTs("08:30", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680278400+8*3600+30*60), ts)
	})

	t.Run("Should try canned formats for full input", func(t *testing.T) {
		tests := []struct {
			input    string
			expected int64
		}{
			{"2023/04/01 15:30:45", 1680334245},
			{"2023年04月01日 15:30:45", 1680334245},
			{"2023@04@01 15:30:45", 1680334245},
			{"2023-04-01 15:30", 1680334200},
			{"2023/04/01 15:30", 1680334200},
			{"2023-04-01 15:30:45.123", 1680334245},
		}

		for _, tt := range tests {
			t.Run(tt.input, func(t *testing.T) {
				ts, err := c.TextToTs(tt.input, DefaultFormat)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, ts)
			})
		}
	})

	t.Run("Should fall back to the preferred format", func(t *testing.T) {
		ts, err := c.TextToTs("15:30:45 2023", "%H:%M:%S %Y")
		assert.Error(t, err, "format without month and day cannot produce a datetime")
		assert.Zero(t, ts)

		// "." is not a date separator, so only the preferred format can read this
		ts, err = c.TextToTs("2023.04.01 15:30:45", "%Y.%m.%d %H:%M:%S")
		require.NoError(t, err)
		assert.Equal(t, int64(1680334245), ts)
	})

	t.Run("Should reject formats missing a year", func(t *testing.T) {
		_, err := c.TextToTs("04-01 15:30", DefaultFormat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2023-04-01 15:30:45")
	})

	t.Run("Should name the format and an example on failure", func(t *testing.T) {
		tests := []struct {
			name    string
			input   string
			example string
		}{
			{"Date only", "2023-13-45", "\"2023-04-01\""},
			{"Time only", "25:99:00", "\"15:30:45\""},
			{"Full", "2023-04-01 99:00:00", "\"2023-04-01 15:30:45\""},
			{"Unknown", "yesterday", "\"2023-04-01 15:30:45\""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := c.TextToTs(tt.input, DefaultFormat)
				require.Error(t, err)
				assert.Contains(t, err.Error(), DefaultFormat)
				assert.Contains(t, err.Error(), tt.example)
			})
		}
	})
}

func TestTextToMs(t *testing.T) {
	c := newTestConverter()

	t.Run("Should keep milliseconds", func(t *testing.T) {
		ms, err := c.TextToMs("2023-04-01 15:30:45.123", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680334245123), ms)
	})

	t.Run("Should scale seconds for plain input", func(t *testing.T) {
		ms, err := c.TextToMs("2023-04-01 15:30:45", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680334245000), ms)

		ms, err = c.TextToMs("2023/04/01", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680278400000), ms)
	})

	t.Run("Should treat time-only sub-seconds as zero", func(t *testing.T) {
		ms, err := c.TextToMs("15:30", DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, int64(1680334200000), ms)
	})
}

func TestTsToText(t *testing.T) {
	c := newTestConverter()

	t.Run("Should render in the display location", func(t *testing.T) {
		text, err := c.TsToText(1680334245, DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, "2023-04-01 15:30:45", text)

		utc := NewConverter(WithDisplayLocation(time.UTC))
		text, err = utc.TsToText(1680334245, DefaultFormat)
		require.NoError(t, err)
		assert.Equal(t, "2023-04-01 07:30:45", text)
	})

	t.Run("Should render every canned format", func(t *testing.T) {
		expected := []string{
			"2023-04-01 15:30:45",
			"2023/04/01 15:30:45",
			"2023年04月01日 15:30:45",
			"2023@04@01 15:30:45",
			"2023-04-01",
			"2023/04/01",
			"2023年04月01日",
			"2023@04@01",
			"15:30:45",
			"15:30",
			"2023-04-01 15:30",
			"2023/04/01 15:30",
			"2023@04@01 15:30",
			"04-01 15:30",
			"04/01 15:30",
			"04@01 15:30",
			"2023-04-01 15:30:45.123",
			"2023@04@01 15:30:45.123",
		}

		for i, format := range CannedFormats() {
			text, err := c.MsToText(1680334245123, format)
			require.NoError(t, err)
			assert.Equal(t, expected[i], text, "format %d (%s)", i, format)
		}
	})

	t.Run("Should fail for unrepresentable instants", func(t *testing.T) {
		_, err := c.TsToText(1<<62, DefaultFormat)
		assert.ErrorIs(t, err, ErrInvalidTimestamp)

		_, err = c.TsToText(-(1 << 62), DefaultFormat)
		assert.ErrorIs(t, err, ErrInvalidTimestamp)
	})
}

func TestMsToText(t *testing.T) {
	c := NewConverter(WithDisplayLocation(time.UTC))

	t.Run("Should split milliseconds into seconds and nanos", func(t *testing.T) {
		text, err := c.MsToText(1680334245123, "%Y-%m-%d %H:%M:%S.%3f")
		require.NoError(t, err)
		assert.Equal(t, "2023-04-01 07:30:45.123", text)
	})

	t.Run("Should floor negative milliseconds", func(t *testing.T) {
		text, err := c.MsToText(-1, "%Y-%m-%d %H:%M:%S.%3f")
		require.NoError(t, err)
		assert.Equal(t, "1969-12-31 23:59:59.999", text)
	})
}

func TestValidateFormat(t *testing.T) {
	c := newTestConverter()

	t.Run("Should accept canned formats without digits", func(t *testing.T) {
		for i, format := range CannedFormats()[:16] {
			assert.NoError(t, c.ValidateFormat(format), "format %d", i)
		}
	})

	t.Run("Should reject empty format", func(t *testing.T) {
		err := c.ValidateFormat("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("Should reject characters outside the allowed set", func(t *testing.T) {
		err := c.ValidateFormat("%Y-%m-%dT%H")
		require.Error(t, err)
		assert.Equal(t, "invalid time-format character: T", err.Error())

		err = c.ValidateFormat("%Y-%m-%d %H:%M:%S.%3f")
		require.Error(t, err)
		assert.Equal(t, "invalid time-format character: 3", err.Error())
	})

	t.Run("Should require a specifier", func(t *testing.T) {
		err := c.ValidateFormat("--//")
		require.Error(t, err)
		assert.Equal(t, "time format must contain one of %Y %y %m %d %H %M %S", err.Error())
	})

	t.Run("Should reject formats that cannot render", func(t *testing.T) {
		err := c.ValidateFormat("%Y %")
		require.Error(t, err)
		assert.Equal(t, "invalid time format", err.Error())
	})

	t.Run("Should guarantee non-empty output for valid formats", func(t *testing.T) {
		for _, format := range []string{"%Y", "%y年", "%H:%M", "%d/%m/%Y", "%Y-%m-%d %H:%M:%S.%f", "%-d@%m"} {
			require.NoError(t, c.ValidateFormat(format), format)
			assert.NotEmpty(t, c.NowText(format), format)
		}
	})
}

func TestSetFormat(t *testing.T) {
	t.Run("Should default to the standard format", func(t *testing.T) {
		c := newTestConverter()
		assert.Equal(t, DefaultFormat, c.Format())
	})

	t.Run("Should store only validated formats", func(t *testing.T) {
		c := newTestConverter()

		require.NoError(t, c.SetFormat("%Y/%m/%d"))
		assert.Equal(t, "%Y/%m/%d", c.Format())

		assert.Error(t, c.SetFormat("%Q"))
		assert.Equal(t, "%Y/%m/%d", c.Format())
	})

	t.Run("Should select canned formats by index", func(t *testing.T) {
		c := newTestConverter()

		assert.Equal(t, "%H:%M", c.SelectFormat(9))
		assert.Equal(t, "%H:%M", c.Format())

		assert.Equal(t, "%Y-%m-%d %H:%M:%S.%3f", c.SelectFormat(16))
		assert.Equal(t, "%Y-%m-%d %H:%M:%S", c.SelectFormat(42))
		assert.Equal(t, "%Y-%m-%d %H:%M:%S", c.SelectFormat(-1))
	})
}

func TestRoundTrip(t *testing.T) {
	t.Run("Should round-trip now under the Beijing rule", func(t *testing.T) {
		c := NewConverter(WithDisplayLocation(Beijing))

		before := time.Now().Unix()
		text := c.NowText(DefaultFormat)
		ts, err := c.TextToTs(text, DefaultFormat)
		require.NoError(t, err)

		assert.InDelta(t, before, ts, 1)
	})

	t.Run("Should round-trip milliseconds through format 16", func(t *testing.T) {
		c := newTestConverter()
		format := CannedFormat(16)

		text, err := c.MsToText(1680334245123, format)
		require.NoError(t, err)

		ms, err := c.TextToMs(text, format)
		require.NoError(t, err)
		assert.Equal(t, int64(1680334245123), ms)
	})
}

func TestParseInteger(t *testing.T) {
	t.Run("Should parse signed integers", func(t *testing.T) {
		tests := []struct {
			input    string
			expected int64
		}{
			{"1680334245", 1680334245},
			{"-42", -42},
			{"+7", 7},
			{" 12 ", 12},
		}

		for _, tt := range tests {
			v, err := ParseInteger(tt.input)
			require.NoError(t, err, tt.input)
			assert.Equal(t, tt.expected, v)
		}
	})

	t.Run("Should reject non-integers", func(t *testing.T) {
		for _, input := range []string{"", "abc", "1.5", "99999999999999999999"} {
			_, err := ParseInteger(input)
			assert.ErrorIs(t, err, ErrInvalidTimestamp, input)
			assert.Equal(t, "invalid timestamp", err.Error())
		}
	})
}

func TestConvertHelpers(t *testing.T) {
	c := newTestConverter()

	t.Run("Should produce display strings", func(t *testing.T) {
		assert.Equal(t, "2023-04-01 15:30:45", c.ConvertTimestamp("1680334245"))
		assert.Equal(t, "invalid timestamp", c.ConvertTimestamp("soon"))
		assert.Equal(t, "invalid timestamp", c.ConvertMsTimestamp("9223372036854775807"))
		assert.Equal(t, "1680334245", c.ConvertToTimestamp("2023-04-01 15:30:45"))
		assert.Equal(t, "1680334245000", c.ConvertToMsTimestamp("2023-04-01 15:30:45"))
		assert.Contains(t, c.ConvertToTimestamp("nonsense"), "invalid datetime format")
	})

	t.Run("Should report current timestamps from the clock", func(t *testing.T) {
		assert.Equal(t, fixedNow.Unix(), c.NowUnix())
		assert.Equal(t, fixedNow.UnixMilli(), c.NowUnixMilli())
	})
}
