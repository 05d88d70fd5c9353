package regions

import (
	"fmt"
	"time"

	"screen-ocr-translate/src/screenshot"
)

// wireEntry is the JSON shape of region_config.json. Regions are stored as
// [x, y, width, height]; timestamps are ISO-8601, with or without a zone.
type wireEntry struct {
	Region      [4]int `json:"region"`
	Timestamp   string `json:"timestamp"`
	WindowTitle string `json:"window_title"`
	LastUsed    string `json:"last_used"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (w wireEntry) entry() (Entry, error) {
	r := screenshot.Region{X: w.Region[0], Y: w.Region[1], Width: w.Region[2], Height: w.Region[3]}
	if !r.Valid() {
		return Entry{}, fmt.Errorf("invalid region %v", w.Region)
	}
	ts, err := parseTime(w.Timestamp)
	if err != nil {
		return Entry{}, err
	}
	used, err := parseTime(w.LastUsed)
	if err != nil {
		return Entry{}, err
	}
	if used.IsZero() {
		used = ts
	}
	return Entry{Region: r, Timestamp: ts, WindowTitle: w.WindowTitle, LastUsed: used}, nil
}

func toWire(e Entry) wireEntry {
	return wireEntry{
		Region:      [4]int{e.Region.X, e.Region.Y, e.Region.Width, e.Region.Height},
		Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
		WindowTitle: e.WindowTitle,
		LastUsed:    e.LastUsed.Format(time.RFC3339Nano),
	}
}
