package datetime

// DefaultFormat is the user format before anything is selected
const DefaultFormat = "%Y-%m-%d %H:%M:%S"

// cannedFormats is the indexed table offered by the format picker. The order
// matters: full-datetime input is tried against it top to bottom.
var cannedFormats = [...]string{
	"%Y-%m-%d %H:%M:%S",
	"%Y/%m/%d %H:%M:%S",
	"%Y年%m月%d日 %H:%M:%S",
	"%Y@%m@%d %H:%M:%S",
	"%Y-%m-%d",
	"%Y/%m/%d",
	"%Y年%m月%d日",
	"%Y@%m@%d",
	"%H:%M:%S",
	"%H:%M",
	"%Y-%m-%d %H:%M",
	"%Y/%m/%d %H:%M",
	"%Y@%m@%d %H:%M",
	"%m-%d %H:%M",
	"%m/%d %H:%M",
	"%m@%d %H:%M",
	"%Y-%m-%d %H:%M:%S.%3f",
	"%Y@%m@%d %H:%M:%S.%3f",
}

var cannedPatterns = mustCompileAll(cannedFormats[:])

func mustCompileAll(formats []string) []*pattern {
	patterns := make([]*pattern, len(formats))
	for i, f := range formats {
		p, err := compilePattern(f)
		if err != nil {
			panic(err)
		}
		patterns[i] = p
	}
	return patterns
}

// CannedFormat returns the table entry at index; out-of-range indexes fall back to entry 0
func CannedFormat(index int) string {
	if index < 0 || index >= len(cannedFormats) {
		return cannedFormats[0]
	}
	return cannedFormats[index]
}

// CannedFormats returns a copy of the whole table
func CannedFormats() []string {
	out := make([]string, len(cannedFormats))
	copy(out, cannedFormats[:])
	return out
}
