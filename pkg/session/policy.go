package session

import "time"

// ResetMode controls when a session's history is cleared.
type ResetMode string

const (
	ResetDaily  ResetMode = "daily"
	ResetIdle   ResetMode = "idle"
	ResetManual ResetMode = "manual"
)

// ResetPolicy is immutable per store instance.
type ResetPolicy struct {
	Mode        ResetMode
	AtHour      int
	IdleMinutes int
}

// Expired reports whether a session should be reset before serving it.
//
// Daily mode resets once per local calendar day, at or after AtHour: the
// session expires when now falls on a different day than the last reset and
// the local hour has reached AtHour. A second evaluation the same day is a
// no-op because the reset stamps lastReset with the current day.
//
// Idle mode expires when the gap since the last activity exceeds IdleMinutes.
// Manual mode never expires automatically.
func (p ResetPolicy) Expired(lastActive, lastReset, now time.Time) bool {
	switch p.Mode {
	case ResetDaily:
		if lastReset.IsZero() {
			return false
		}
		y1, m1, d1 := lastReset.Local().Date()
		y2, m2, d2 := now.Local().Date()
		sameDay := y1 == y2 && m1 == m2 && d1 == d2
		return !sameDay && now.Local().Hour() >= p.AtHour
	case ResetIdle:
		if p.IdleMinutes <= 0 || lastActive.IsZero() {
			return false
		}
		return now.Sub(lastActive) > time.Duration(p.IdleMinutes)*time.Minute
	default:
		return false
	}
}
