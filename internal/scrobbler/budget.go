package scrobbler

import (
	"math"
	"strconv"
	"time"
)

// Persisted slot keys for the daily quota counters. They live next to the
// pending-scrobbles blob and are only touched under the queue's critical
// section, so "accepted count" and "persisted queue state" stay consistent.
const (
	dayStampKey       = "lastfm.scrobble_day_stamp"
	scrobblesTodayKey = "lastfm.scrobbles_today"
)

// dailyBudget tracks how many accepted scrobbles remain for the current
// calendar day. A zero cap means unlimited. The counter increments only on
// confirmed-accepted submissions, never on attempts, and resets exactly
// once when the day stamp changes.
type dailyBudget struct {
	store BlobStore
	cap   int
}

func dayStamp(now time.Time) int {
	return now.Year()*10000 + int(now.Month())*100 + now.Day()
}

func (b *dailyBudget) load() (stamp, today int) {
	if s, err := b.store.Get(dayStampKey); err == nil {
		stamp, _ = strconv.Atoi(s)
	}
	if s, err := b.store.Get(scrobblesTodayKey); err == nil {
		today, _ = strconv.Atoi(s)
	}
	return stamp, today
}

func (b *dailyBudget) save(stamp, today int) {
	_ = b.store.Set(dayStampKey, strconv.Itoa(stamp))
	_ = b.store.Set(scrobblesTodayKey, strconv.Itoa(today))
}

// remaining rolls the day stamp if the calendar day changed and returns the
// number of scrobbles still allowed today.
func (b *dailyBudget) remaining(now time.Time) int {
	stamp, today := b.load()

	if current := dayStamp(now); stamp != current {
		stamp = current
		today = 0
		b.save(stamp, today)
	}

	if b.cap <= 0 {
		return math.MaxInt
	}
	if today >= b.cap {
		return 0
	}
	return b.cap - today
}

// recordAccepted adds n confirmed-accepted submissions to today's counter.
func (b *dailyBudget) recordAccepted(now time.Time, n int) {
	if n <= 0 {
		return
	}
	stamp, today := b.load()
	if current := dayStamp(now); stamp != current {
		stamp = current
		today = 0
	}
	b.save(stamp, today+n)
}
