package scrobbler

// Scrobbling eligibility constants.
const (
	// MinTrackDuration is the minimum track length required for scrobbling,
	// in seconds.
	MinTrackDuration = 30.0

	// ThresholdFactor is the fraction of the track that must be listened to.
	ThresholdFactor = 0.5

	// MaxThresholdSeconds caps the required listened time for long tracks.
	MaxThresholdSeconds = 240.0

	// LongTrackSeconds is the duration above which the cap applies instead
	// of the percentage rule.
	LongTrackSeconds = 480.0

	// MaxDeltaSeconds bounds a single position delta that may count as
	// listened time. Larger jumps are seeks or stream glitches and
	// contribute nothing.
	MaxDeltaSeconds = 20.0
)

// Rules is the per-track eligibility state machine. It is pure state: no
// I/O, no clock. Position signals are fed in by the session tracker.
//
// Eligibility is driven by an accumulated, delta-bounded listened counter
// rather than the raw playback position, so seeking forward never counts as
// listening and jumpy stream positions cannot corrupt the tally.
type Rules struct {
	TrackDuration float64
	Paused        bool
	SkippedEarly  bool

	effectiveListened    float64
	lastReportedTime     float64
	haveLastReportedTime bool
}

// Reset starts a fresh session for a new track of the given duration.
func (r *Rules) Reset(duration float64) {
	r.TrackDuration = duration
	r.Paused = false
	r.SkippedEarly = false
	r.effectiveListened = 0
	r.lastReportedTime = 0
	r.haveLastReportedTime = false
}

// OnTimeUpdate feeds an absolute playback position. Only small forward
// deltas in (0, MaxDeltaSeconds] accumulate; anything else re-baselines
// without contributing.
func (r *Rules) OnTimeUpdate(t float64) {
	if !r.haveLastReportedTime {
		r.lastReportedTime = t
		r.haveLastReportedTime = true
		return
	}

	delta := t - r.lastReportedTime
	if delta > 0 && delta <= MaxDeltaSeconds {
		r.effectiveListened += delta
	}
	r.lastReportedTime = t
}

// InvalidateBaseline discards the running delta baseline. Called after a
// suspend/resume so the next position report does not produce one artificial
// jump.
func (r *Rules) InvalidateBaseline() {
	r.haveLastReportedTime = false
}

// OnSeek handles an explicit seek to position t. A seek below the
// half-duration mark permanently disqualifies the track for this session and
// restarts the listened counter as a fresh partial listen.
func (r *Rules) OnSeek(t float64) {
	if t < r.TrackDuration*ThresholdFactor {
		r.SkippedEarly = true
		r.effectiveListened = 0
	}
	r.haveLastReportedTime = false
}

// SetPaused stores the pause state. While paused, eligibility is denied
// outright.
func (r *Rules) SetPaused(paused bool) {
	r.Paused = paused
	if paused {
		r.haveLastReportedTime = false
	}
}

// EffectiveListened returns the accumulated listened seconds.
func (r *Rules) EffectiveListened() float64 {
	return r.effectiveListened
}

// RequiredListened returns the listened-time threshold for the current
// track, or a negative value for tracks too short to ever scrobble.
func (r *Rules) RequiredListened() float64 {
	if r.TrackDuration < MinTrackDuration {
		return -1
	}
	if r.TrackDuration > LongTrackSeconds {
		return MaxThresholdSeconds
	}
	return r.TrackDuration * ThresholdFactor
}

// Eligible reports whether the accumulated listened time has crossed the
// threshold, ignoring pause and skip state.
func (r *Rules) Eligible() bool {
	req := r.RequiredListened()
	if req < 0 {
		return false
	}
	if req > MaxThresholdSeconds {
		req = MaxThresholdSeconds
	}
	return r.effectiveListened >= req
}

// ShouldScrobble is the full eligibility decision: not paused, not skipped,
// and past the listened threshold.
func (r *Rules) ShouldScrobble() bool {
	if r.Paused || r.SkippedEarly {
		return false
	}
	return r.Eligible()
}
