package pricefeed

import "fmt"

// SequenceValidator tracks the source sequence of price updates per
// publisher. Stale updates are rejected; gaps are tolerated and counted.
// Not thread-safe; the Feed holds its lock while calling it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // source -> next expected sequence
	gaps            map[string]int64 // source -> gap count
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
	}
}

// Validate accepts seq if it is not behind the source's expected sequence.
// The first update from a source sets the baseline.
func (sv *SequenceValidator) Validate(source string, seq int64) (gap bool, err error) {
	expected, seen := sv.expectedNextSeq[source]
	if seen && seq < expected {
		return false, fmt.Errorf("%w: source=%s expected>=%d got=%d", ErrStaleUpdate, source, expected, seq)
	}
	if seen && seq > expected {
		sv.gaps[source]++
		gap = true
	}
	sv.expectedNextSeq[source] = seq + 1
	return gap, nil
}

// GetExpectedSequence returns next expected sequence for a source
func (sv *SequenceValidator) GetExpectedSequence(source string) int64 {
	return sv.expectedNextSeq[source]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(source string, seq int64) {
	sv.expectedNextSeq[source] = seq
}

func (sv *SequenceValidator) Gaps(source string) int64 {
	return sv.gaps[source]
}
