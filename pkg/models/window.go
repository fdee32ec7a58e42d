package models

import (
	"fmt"
	"strings"
	"time"
)

const labelDateLayout = "2006-01-02"

// WindowLabel identifies one calendar-month window of a partition.
type WindowLabel struct {
	Interval int       `json:"interval"` // window length in months
	Index    int       `json:"index"`    // period index relative to the global start
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"` // inclusive, one second before the next window
}

// String renders the label as "YYYY-MM-DD_to_YYYY-MM-DD", the window's file stem.
func (l WindowLabel) String() string {
	return l.Start.UTC().Format(labelDateLayout) + "_to_" + l.End.UTC().Format(labelDateLayout)
}

// ParseWindowLabel parses the date pair of a window file stem. Interval and
// Index are not recoverable from the stem and are left zero.
func ParseWindowLabel(s string) (WindowLabel, error) {
	from, to, ok := strings.Cut(s, "_to_")
	if !ok {
		return WindowLabel{}, fmt.Errorf("invalid window label %q", s)
	}
	start, err := time.Parse(labelDateLayout, from)
	if err != nil {
		return WindowLabel{}, fmt.Errorf("invalid window start %q: %w", from, err)
	}
	end, err := time.Parse(labelDateLayout, to)
	if err != nil {
		return WindowLabel{}, fmt.Errorf("invalid window end %q: %w", to, err)
	}
	if end.Before(start) {
		return WindowLabel{}, fmt.Errorf("window label %q ends before it starts", s)
	}
	return WindowLabel{Start: start, End: end}, nil
}
