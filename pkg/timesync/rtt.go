package timesync

const (
	rttRingSize     = 20
	rttSampleWindow = 10

	// Ping sequences wrap at 16 bits so they pack into at most two bytes on
	// the wire.
	sequenceModulus = 0x10000
)

// RTTEntry records one outstanding ping. A slot is reused once the ring wraps;
// a stale occupant whose sequence no longer matches is treated as absent.
type RTTEntry struct {
	Time     uint64
	Sequence uint16
	valid    bool
}

// RTTCalculator tracks in-flight pings in a fixed ring and feeds completed
// round trips into a sliding sample window.
type RTTCalculator struct {
	nextSequence uint32
	entries      [rttRingSize]RTTEntry
	samples      *SampleSet

	// Mean and Variance are republished from the sample window on every
	// submitted pong, in nanoseconds and squared nanoseconds.
	Mean     int64
	Variance int64
}

// NewRTTCalculator creates a calculator with an empty ring.
func NewRTTCalculator() *RTTCalculator {
	return &RTTCalculator{samples: NewSampleSet(rttSampleWindow)}
}

// Next allocates the next sequence number and records now as its send time,
// overwriting any prior occupant of the slot.
func (c *RTTCalculator) Next(now uint64) *RTTEntry {
	seq := uint16(c.nextSequence)
	c.nextSequence++
	if c.nextSequence >= sequenceModulus {
		c.nextSequence = 0
	}
	e := &c.entries[int(seq)%rttRingSize]
	e.Time = now
	e.Sequence = seq
	e.valid = true
	return e
}

// Entry returns the in-flight entry for seq, or nil if it was already
// consumed or overwritten by a later ping.
func (c *RTTCalculator) Entry(seq uint16) *RTTEntry {
	e := &c.entries[int(seq)%rttRingSize]
	if !e.valid || e.Sequence != seq {
		return nil
	}
	return e
}

// Submit completes e with the receive time, subtracting the peer's reported
// hold time. Submitting an already-consumed entry is a no-op.
func (c *RTTCalculator) Submit(e *RTTEntry, recvTime uint64, deltaTime int64) {
	if !e.valid {
		return
	}
	e.valid = false
	c.samples.Submit(int64(recvTime) - int64(e.Time) - deltaTime)
	c.Mean, c.Variance = c.samples.Calc()
}
