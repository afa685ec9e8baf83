package i2s

// Descriptor ownership. A buffer owned by the hardware engine must not be
// touched by software; the completion handler flips ownership around each
// refill.
type owner uint8

const (
	ownerNone owner = iota
	ownerSoftware
	ownerHardware
)

// descriptor describes one transfer unit: a fixed-length block of 32-bit
// stereo frames plus the index link to the next descriptor in ring order.
// Links are indices into the ring's arena rather than pointers, so "next" is
// always a bounds-checked modular step.
type descriptor struct {
	buf   []uint32
	next  uint8
	owner owner
	eof   bool
}

// descriptorRing is a fixed-count circular pool of transfer descriptors.
// The count and buffer geometry are fixed when the ring is built; buffers
// are refilled in place and never reallocated while the ring lives.
type descriptorRing struct {
	desc []descriptor
}

// init builds a ring of count descriptors over buffers of blockLen frames,
// allocated as a single arena, and primes each buffer through render before
// marking it hardware-owned. It returns ErrAllocation when the requested
// pool cannot be satisfied, leaving the ring empty.
func (r *descriptorRing) init(count, blockLen int, render RenderFunc) error {
	if count < 2 || count > maxBuffers || blockLen < minBufferLen || blockLen > maxBufferLen {
		return ErrAllocation
	}
	arena := make([]uint32, count*blockLen)
	r.desc = make([]descriptor, count)
	for i := range r.desc {
		d := &r.desc[i]
		d.buf = arena[i*blockLen : (i+1)*blockLen : (i+1)*blockLen]
		d.next = uint8((i + 1) % count)
		d.eof = true
		render(d.buf)
		d.owner = ownerHardware
	}
	return nil
}

func (r *descriptorRing) at(i uint8) *descriptor {
	if int(i) >= len(r.desc) {
		panic("i2s: descriptor index out of range")
	}
	return &r.desc[i]
}

func (r *descriptorRing) len() int { return len(r.desc) }

// release drops the descriptor arena. Only legal once the engine has been
// disarmed; Session.End enforces that ordering.
func (r *descriptorRing) release() { r.desc = nil }
