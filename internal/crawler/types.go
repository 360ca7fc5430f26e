package crawler

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DefaultDateLayout renders dates the way the exchange form expects them (10/9/2014).
const DefaultDateLayout = "1/2/2006"

// ErrNoEntities is returned when discovery yields nothing crawlable.
var ErrNoEntities = errors.New("no entities discovered")

// Entity identifies a tradable security listed on the exchange.
type Entity string

// IsAlphabetic reports whether the raw listing token is made solely of letters.
// Placeholder and separator options in the listing control fail this check.
func IsAlphabetic(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// FilterEntities trims raw option labels and keeps alphabetic, unique tokens in order.
func FilterEntities(raw []string) []Entity {
	out := make([]Entity, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		token = strings.TrimSpace(token)
		if !IsAlphabetic(token) {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, Entity(token))
	}
	return out
}

// Window is a (from, to) date span queried in one fetch. From is always before To.
type Window struct {
	From   time.Time
	To     time.Time
	Layout string
}

// NewWindow validates the ordering of the bounds.
func NewWindow(from, to time.Time, layout string) (Window, error) {
	if !from.Before(to) {
		return Window{}, fmt.Errorf("window from %s is not before to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if layout == "" {
		layout = DefaultDateLayout
	}
	return Window{From: from, To: to, Layout: layout}, nil
}

// FromText is the serialized lower bound.
func (w Window) FromText() string {
	return w.From.Format(w.layout())
}

// ToText is the serialized upper bound.
func (w Window) ToText() string {
	return w.To.Format(w.layout())
}

// CompleteBefore reports whether the window ended strictly before the given day.
func (w Window) CompleteBefore(day time.Time) bool {
	return dateOnly(w.To).Before(dateOnly(day))
}

func (w Window) String() string {
	return w.FromText() + "-" + w.ToText()
}

func (w Window) layout() string {
	if w.Layout == "" {
		return DefaultDateLayout
	}
	return w.Layout
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckpointKey identifies one attempted-and-completed window for one entity.
type CheckpointKey struct {
	Entity Entity
	From   string
	To     string
}

// KeyFor builds the natural key of an (entity, window) pair.
func KeyFor(entity Entity, w Window) CheckpointKey {
	return CheckpointKey{Entity: entity, From: w.FromText(), To: w.ToText()}
}

// Observation is one extracted table row tied to its entity and window.
type Observation struct {
	Entity Entity
	From   string
	To     string
	Fields []string
}

// Key returns the checkpoint key the observation belongs to.
func (o Observation) Key() CheckpointKey {
	return CheckpointKey{Entity: o.Entity, From: o.From, To: o.To}
}
