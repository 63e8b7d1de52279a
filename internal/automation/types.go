package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
)

// MinutesPerDay is the number of distinct MinuteOfDay values.
const MinutesPerDay = 24 * 60

// MinuteOfDay is a wall-clock time without a date, 0 (00:00) to 1439 (23:59).
// It is encoded as "HH:MM" in JSON.
type MinuteOfDay int

// NewMinuteOfDay builds a MinuteOfDay from an hour and a minute.
func NewMinuteOfDay(hour, minute int) (MinuteOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}
	return MinuteOfDay(hour*60 + minute), nil
}

// MustMinuteOfDay is NewMinuteOfDay for constants. It panics on invalid input.
func MustMinuteOfDay(hour, minute int) MinuteOfDay {
	m, err := NewMinuteOfDay(hour, minute)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMinuteOfDay parses "HH:MM" (24-hour clock). "8:05" is accepted.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return NewMinuteOfDay(hour, minute)
}

// MinuteOf returns the minute of day of t in its own location.
func MinuteOf(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

// Valid reports whether m is within 00:00-23:59.
func (m MinuteOfDay) Valid() bool {
	return m >= 0 && m < MinutesPerDay
}

// Hour returns the hour component.
func (m MinuteOfDay) Hour() int { return int(m) / 60 }

// Minute returns the minute component.
func (m MinuteOfDay) Minute() int { return int(m) % 60 }

// String renders "HH:MM".
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", m.Hour(), m.Minute())
}

// MarshalText implements encoding.TextMarshaler.
func (m MinuteOfDay) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTime, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MinuteOfDay) UnmarshalText(text []byte) error {
	v, err := ParseMinuteOfDay(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Action is what a schedule applies when its window opens.
type Action string

const (
	ActionOn  Action = "On"
	ActionOff Action = "Off"
)

// Valid reports whether a is On or Off.
func (a Action) Valid() bool {
	return a == ActionOn || a == ActionOff
}

// On reports whether the action switches devices on.
func (a Action) On() bool {
	return a == ActionOn
}

// ParseAction accepts "On" and "Off" in any letter case.
func ParseAction(s string) (Action, error) {
	switch {
	case strings.EqualFold(s, string(ActionOn)):
		return ActionOn, nil
	case strings.EqualFold(s, string(ActionOff)):
		return ActionOff, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	v, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Target is the device a schedule drives, or TargetAll.
type Target string

// TargetAll addresses every device in the catalog, each tracked on its own.
const TargetAll Target = config.ReservedDeviceID

// TargetDevice returns the target for one device.
func TargetDevice(id device.ID) Target {
	return Target(id)
}

// IsAll reports whether t addresses every device.
func (t Target) IsAll() bool {
	return t == TargetAll
}

// Devices resolves t against the catalog, in catalog order for TargetAll.
func (t Target) Devices(catalog *device.Catalog) ([]device.ID, error) {
	if t.IsAll() {
		return catalog.IDs(), nil
	}
	id := device.ID(t)
	if _, ok := catalog.Get(id); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, string(t))
	}
	return []device.ID{id}, nil
}

// Schedule is a daily time window for one device or all of them.
//
// At Start the Action is applied; at End the devices are switched off,
// whatever the Action was. A window with Start after End wraps midnight.
// A window with Start equal to End is empty and never fires.
type Schedule struct {
	ID      string      `json:"id"`
	Target  Target      `json:"target"`
	Start   MinuteOfDay `json:"start"`
	End     MinuteOfDay `json:"end"`
	Action  Action      `json:"action"`
	Enabled bool        `json:"enabled"`
}

// Empty reports whether the window has no duration.
func (s Schedule) Empty() bool {
	return s.Start == s.End
}

// Contains reports whether m falls inside [Start, End), wrapping midnight
// when Start > End.
func (s Schedule) Contains(m MinuteOfDay) bool {
	switch {
	case s.Start < s.End:
		return m >= s.Start && m < s.End
	case s.Start > s.End:
		return m >= s.Start || m < s.End
	default:
		return false
	}
}

// Window renders "08:00 à 08:05".
func (s Schedule) Window() string {
	return s.Start.String() + " à " + s.End.String()
}
