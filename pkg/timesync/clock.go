package timesync

import "time"

// SyncLevel is the confidence tier of the clock estimator. Higher tiers adopt
// new offsets aggressively; lower tiers accept only consistent large
// deviations from the windowed mean.
type SyncLevel int

const (
	SyncHigh SyncLevel = iota
	SyncMedium
	SyncLow
)

func (l SyncLevel) String() string {
	switch l {
	case SyncHigh:
		return "high"
	case SyncMedium:
		return "medium"
	case SyncLow:
		return "low"
	}
	return "unknown"
}

const (
	ms   = int64(time.Millisecond)
	msSq = ms * ms

	highRTTVarianceCap       = 100 * msSq // (10ms)²
	mediumRTTVarianceCap     = 25 * msSq  // (5ms)²
	lowRTTVarianceCap        = 25 * msSq
	highMinPings             = 20
	highDowngradeRTTVariance = 25 * msSq
	highMinDelta             = 5 * ms
	mediumRecentVarThreshold = 25 * msSq
	mediumMinDelta           = 10 * ms
	lowMinMeanDelta          = 10 * ms

	recentOffsetWindow = 10
)

// Clock estimates the peer clock offset (peer time minus local time) from
// ping round trips, becoming progressively less willing to update as the RTT
// stabilizes.
type Clock struct {
	offset        int64
	level         SyncLevel
	highSyncCount int
	recentOffsets *SampleSet
	rtt           *RTTCalculator
	now           func() uint64
}

// NewClock creates a clock fed by rtt. now may be nil to use wall time.
func NewClock(rtt *RTTCalculator, now func() uint64) *Clock {
	if now == nil {
		now = Now
	}
	return &Clock{
		recentOffsets: NewSampleSet(recentOffsetWindow),
		rtt:           rtt,
		now:           now,
	}
}

// Offset returns the current estimate of peer time minus local time.
func (c *Clock) Offset() int64 { return c.offset }

// Level returns the current confidence tier.
func (c *Clock) Level() SyncLevel { return c.level }

// Now returns the peer-aligned time in nanoseconds.
func (c *Clock) Now() uint64 {
	return uint64(int64(c.now()) + c.offset)
}

// Set hard-sets the offset so the clock reads peerNow at this instant. Used
// once to seed from the handshake timestamp.
func (c *Clock) Set(peerNow uint64) {
	c.offset = int64(peerNow) - int64(c.now())
}

// Sync folds one ping exchange into the estimate. reqSend/resRecv are local
// times, reqRecv/resSend peer times. Returns true iff the offset was updated.
func (c *Clock) Sync(reqSend, reqRecv, resSend, resRecv uint64) bool {
	sample := (int64(reqRecv) - int64(reqSend) + int64(resSend) - int64(resRecv)) / 2
	c.recentOffsets.Submit(sample)

	rttVariance := c.rtt.Variance

	switch c.level {
	case SyncHigh:
		if rttVariance > highRTTVarianceCap {
			return false
		}
		c.highSyncCount++
		if c.highSyncCount >= highMinPings && rttVariance < highDowngradeRTTVariance {
			c.level = SyncMedium
		}
		if abs(sample-c.offset) > highMinDelta {
			c.offset = sample
			return true
		}

	case SyncMedium:
		if rttVariance > mediumRTTVarianceCap {
			return false
		}
		if _, v := c.recentOffsets.Calc(); v < mediumRecentVarThreshold {
			c.level = SyncLow
		}
		if abs(sample-c.offset) > mediumMinDelta {
			c.offset = sample
			return true
		}

	case SyncLow:
		if rttVariance > lowRTTVarianceCap {
			return false
		}
		mean, _ := c.recentOffsets.Calc()
		if abs(mean-sample) > lowMinMeanDelta {
			c.offset = mean
			return true
		}
	}
	return false
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
