// Package session answers "is the venue trading right now" questions from a
// YAML calendar: daily session windows, mid-session pauses, holidays. A
// calendar with always_open set models 24/7 venues; session signals are then
// skipped entirely by the detector.
package session

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPreBreakWindow = 15 * time.Minute

type calendarFile struct {
	Timezone       string   `yaml:"timezone"`
	AlwaysOpen     bool     `yaml:"always_open"`
	Sessions       []window `yaml:"sessions"`
	PreBreakWindow string   `yaml:"pre_break_window"`
	Holidays       []string `yaml:"holidays"`
	WeekendsClosed *bool    `yaml:"weekends_closed"`
}

type window struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

type sessionWindow struct {
	open  int // minutes since midnight
	close int
}

type definition struct {
	alwaysOpen     bool
	windows        []sessionWindow
	preBreakWindow time.Duration
	holidays       map[string]bool
	weekendsClosed bool
}

// Status is a point-in-time view of the trading session.
type Status struct {
	Open   bool
	Reason string // populated when closed: "holiday", "weekend", "session pause", ...

	// HasClose is false for always-open venues; the close/pause fields below
	// are only meaningful when it is true.
	HasClose          bool
	TimeToClose       time.Duration // until the final session close of the day
	PreBreak          bool          // inside the pre-pause window of a non-final session
	PreBreakRemaining time.Duration
	PreBreakWindow    time.Duration // configured window length, set when PreBreak is true
}

// Calendar resolves session status for a venue. Safe for concurrent use;
// Reload swaps the definition atomically (used by the fsnotify watcher).
type Calendar struct {
	mu   sync.RWMutex
	path string
	loc  *time.Location
	def  definition
}

// AlwaysOpen returns a calendar for venues without a session clock.
func AlwaysOpen() *Calendar {
	return &Calendar{
		loc: time.UTC,
		def: definition{alwaysOpen: true},
	}
}

// Load reads the calendar file. The file path is retained for Reload.
func Load(path string) (*Calendar, error) {
	c := &Calendar{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the backing file path ("" for always-open calendars).
func (c *Calendar) Path() string { return c.path }

// Reload re-reads the backing file and swaps the definition in place.
func (c *Calendar) Reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading calendar failed (%s): %w", c.path, err)
	}
	var file calendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing calendar failed (%s): %w", c.path, err)
	}
	loc := time.UTC
	if tz := strings.TrimSpace(file.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("unknown calendar timezone %q: %w", file.Timezone, err)
		}
	}
	def, err := buildDefinition(file)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.loc = loc
	c.def = def
	c.mu.Unlock()
	return nil
}

func buildDefinition(file calendarFile) (definition, error) {
	def := definition{
		alwaysOpen:     file.AlwaysOpen,
		preBreakWindow: defaultPreBreakWindow,
		holidays:       make(map[string]bool, len(file.Holidays)),
		weekendsClosed: true,
	}
	if file.WeekendsClosed != nil {
		def.weekendsClosed = *file.WeekendsClosed
	}
	if raw := strings.TrimSpace(file.PreBreakWindow); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return definition{}, fmt.Errorf("invalid pre_break_window %q", file.PreBreakWindow)
		}
		def.preBreakWindow = d
	}
	for _, h := range file.Holidays {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return definition{}, fmt.Errorf("invalid holiday date %q", h)
		}
		def.holidays[h] = true
	}
	if def.alwaysOpen {
		return def, nil
	}
	if len(file.Sessions) == 0 {
		return definition{}, fmt.Errorf("calendar needs at least one session window")
	}
	for i, w := range file.Sessions {
		open, err := parseClock(w.Open)
		if err != nil {
			return definition{}, fmt.Errorf("session #%d open: %w", i+1, err)
		}
		closeAt, err := parseClock(w.Close)
		if err != nil {
			return definition{}, fmt.Errorf("session #%d close: %w", i+1, err)
		}
		if closeAt <= open {
			return definition{}, fmt.Errorf("session #%d close %q not after open %q", i+1, w.Close, w.Open)
		}
		def.windows = append(def.windows, sessionWindow{open: open, close: closeAt})
	}
	sort.Slice(def.windows, func(i, j int) bool { return def.windows[i].open < def.windows[j].open })
	for i := 1; i < len(def.windows); i++ {
		if def.windows[i].open < def.windows[i-1].close {
			return definition{}, fmt.Errorf("session windows overlap")
		}
	}
	return def, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Status evaluates the calendar at the given instant.
func (c *Calendar) Status(now time.Time) Status {
	c.mu.RLock()
	def := c.def
	loc := c.loc
	c.mu.RUnlock()

	if def.alwaysOpen {
		return Status{Open: true}
	}
	local := now.In(loc)
	day := local.Format("2006-01-02")
	if def.holidays[day] {
		return Status{Reason: "holiday"}
	}
	if def.weekendsClosed {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return Status{Reason: "weekend"}
		}
	}
	minute := local.Hour()*60 + local.Minute()
	secondOfMinute := time.Duration(local.Second())*time.Second + time.Duration(local.Nanosecond())
	finalClose := def.windows[len(def.windows)-1].close

	for i, w := range def.windows {
		if minute >= w.open && minute < w.close {
			st := Status{
				Open:        true,
				HasClose:    true,
				TimeToClose: time.Duration(finalClose-minute)*time.Minute - secondOfMinute,
			}
			if i < len(def.windows)-1 {
				untilPause := time.Duration(w.close-minute)*time.Minute - secondOfMinute
				if untilPause <= def.preBreakWindow {
					st.PreBreak = true
					st.PreBreakRemaining = untilPause
					st.PreBreakWindow = def.preBreakWindow
				}
			}
			return st
		}
	}
	if minute < def.windows[0].open {
		return Status{Reason: "pre-market", HasClose: true}
	}
	if minute >= finalClose {
		return Status{Reason: "market closed", HasClose: true}
	}
	return Status{Reason: "session pause", HasClose: true}
}

// IsMarketOpen reports whether trading is live, with a reason when it is not.
func (c *Calendar) IsMarketOpen(now time.Time) (bool, string) {
	st := c.Status(now)
	return st.Open, st.Reason
}

// TimeToClose returns the remaining time until the day's final close, or 0
// when the venue has no scheduled close or is not currently open.
func (c *Calendar) TimeToClose(now time.Time) time.Duration {
	st := c.Status(now)
	if !st.Open || !st.HasClose {
		return 0
	}
	return st.TimeToClose
}

// PreBreakWindow returns the configured pre-pause window length.
func (c *Calendar) PreBreakWindow() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.def.preBreakWindow > 0 {
		return c.def.preBreakWindow
	}
	return defaultPreBreakWindow
}
