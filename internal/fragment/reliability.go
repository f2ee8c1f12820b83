package fragment

import "fmt"

// ReliabilitySize is the encoded width of a Reliability descriptor.
const ReliabilitySize = 8

// MaxFragments bounds data+parity fragments per object (Reed-Solomon over GF(2^8)).
const MaxFragments = 256

// Reliability describes how an object was erasure coded: any DataFragments of
// the DataFragments+ParityFragments fragments reconstruct it.
type Reliability struct {
	DataFragments   int32
	ParityFragments int32
}

// Total returns the number of fragments written for an object.
func (r Reliability) Total() int {
	return int(r.DataFragments) + int(r.ParityFragments)
}

// Validate checks r can drive the erasure coder.
func (r Reliability) Validate() error {
	if r.DataFragments < 1 {
		return fmt.Errorf("data fragments must be >= 1, got %d", r.DataFragments)
	}
	if r.ParityFragments < 1 {
		return fmt.Errorf("parity fragments must be >= 1, got %d", r.ParityFragments)
	}
	if r.Total() > MaxFragments {
		return fmt.Errorf("total fragments must be <= %d, got %d", MaxFragments, r.Total())
	}
	return nil
}

func (r Reliability) String() string {
	return fmt.Sprintf("%d+%d", r.DataFragments, r.ParityFragments)
}

func (r Reliability) encode(e *encoder) {
	e.putUint32(uint32(r.DataFragments))
	e.putUint32(uint32(r.ParityFragments))
}

func decodeReliability(d *decoder) Reliability {
	return Reliability{
		DataFragments:   d.readInt32(),
		ParityFragments: d.readInt32(),
	}
}
