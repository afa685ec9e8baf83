// Package i2s implements a continuous, interrupt-driven audio sample
// streaming pipeline over a DMA engine. A fixed circular pool of transfer
// buffers is handed to the engine, which cycles through them autonomously;
// each time the engine finishes a buffer the session refills it in place
// through a caller-supplied render callback before the engine wraps around
// and reuses it. Steady-state operation performs no allocation.
//
// The package is hardware independent: all register-level work happens behind
// the Engine interface. The rp2040 subpackage implements Engine for the
// RP2040 PIO peripheral; tests drive the core with a scripted engine on the
// host.
package i2s

import "errors"

// Streaming errors.
var (
	// ErrInvalidRate is returned by Begin when the engine's clock divider
	// cannot express the requested sample rate.
	ErrInvalidRate = errors.New("i2s: sample rate not representable")
	// ErrAllocation is returned by Begin when the buffer pool configuration
	// cannot be satisfied. Nothing is retained after this failure.
	ErrAllocation = errors.New("i2s: cannot allocate buffer pool")
	// ErrQueueEmpty reports a pop from an empty ready queue. Surfacing as a
	// session fault means the completion handler raced ahead of the engine,
	// which correct interrupt bracketing rules out.
	ErrQueueEmpty = errors.New("i2s: ready queue empty")
	// ErrBusy is returned by Begin while the session is already streaming.
	ErrBusy = errors.New("i2s: session already streaming")
)

// Buffer pool geometry used when Config leaves the fields zero. The defaults
// suit 16-bit stereo at telephone-to-CD rates; raise NumBuffers or BufferLen
// for higher rates or slow render callbacks.
const (
	DefaultNumBuffers = 4
	DefaultBufferLen  = 64 // 32-bit stereo frames per buffer
)

const (
	maxBuffers   = 32
	minBufferLen = 8
	maxBufferLen = 4096
)

// RenderFunc supplies sample data. The session invokes it once per buffer
// while priming and then exactly once each time the engine finishes that
// buffer, always with the same fixed-length slice of 32-bit stereo frames to
// be overwritten in place.
//
// RenderFunc runs in the completion interrupt context. It must not block,
// must not allocate and must not call Begin or End. Its deadline is the
// drain time of one buffer at the configured sample rate: overrunning it
// does not fail this call but forces a stale buffer onto the wire on a later
// cycle. Callback state belongs in the closure.
type RenderFunc func(buf []uint32)

// CompleteFunc is the completion hook a Session hands to its Engine. The
// engine calls it from its completion interrupt, with the completion source
// acknowledged and masked for the duration of the call, every time it
// finishes draining a buffer. The returned slice is the next buffer to
// stream; nil means streaming must halt.
type CompleteFunc func() []uint32

// Engine drives the hardware side of a streaming session. Implementations
// own all register-level detail: serial clock setup, transfer programming
// and the completion interrupt.
type Engine interface {
	// Configure programs the serial clock for the given sample rate in Hz.
	// It returns ErrInvalidRate if the rate cannot be expressed by the
	// hardware's clock divider.
	Configure(sampleRate uint32) error
	// Arm starts streaming from first and enables the completion interrupt.
	// complete must be invoked on every buffer completion; see CompleteFunc
	// for the masking contract.
	Arm(first []uint32, complete CompleteFunc) error
	// Disarm disables the completion interrupt, stops the transfer clock and
	// restores any pin state claimed for the stream. It must be safe to call
	// more than once. After Disarm returns the engine holds no reference to
	// session memory.
	Disarm()
}

type sessionState uint8

const (
	stateIdle sessionState = iota
	stateStreaming
)

// Config holds the parameters of one streaming session. The zero value of
// NumBuffers and BufferLen selects the defaults.
type Config struct {
	// SampleRate is the frame rate on the wire in Hz.
	SampleRate uint32
	// NumBuffers is the fixed descriptor count of the session's ring.
	NumBuffers int
	// BufferLen is the length of every buffer in 32-bit stereo frames.
	BufferLen int
}

// Session owns one streaming pipeline: the descriptor ring, the ready queue
// and the render callback, bound to an Engine. The zero Session is not
// usable; construct with NewSession.
//
// Exactly two execution contexts touch a Session: the foreground caller of
// Begin and End, and the engine's completion interrupt. The lifecycle keeps
// them mutually exclusive by sequencing alone. Begin arms the engine only
// after all shared state is ready, End disarms it before tearing anything
// down, so no locking is involved anywhere.
type Session struct {
	engine Engine
	render RenderFunc

	ring     descriptorRing
	queue    readyQueue
	inflight uint8

	state     sessionState
	underruns uint32
	fault     error
}

// NewSession returns an idle session bound to engine.
func NewSession(engine Engine) *Session {
	if engine == nil {
		panic("i2s: nil engine")
	}
	return &Session{engine: engine}
}

// Begin allocates the buffer pool, primes every buffer through render and
// starts streaming. It returns ErrBusy if the session is already streaming,
// ErrInvalidRate if the engine rejects cfg.SampleRate and ErrAllocation if
// the pool configuration cannot be satisfied. On any failure no resources
// remain allocated and the session stays idle.
//
// All buffers are primed before the engine is armed, so render has run once
// per buffer by the time the first frame reaches the wire.
func (s *Session) Begin(render RenderFunc, cfg Config) error {
	if render == nil {
		panic("i2s: nil render callback")
	}
	if s.state == stateStreaming {
		return ErrBusy
	}
	count := cfg.NumBuffers
	if count == 0 {
		count = DefaultNumBuffers
	}
	blockLen := cfg.BufferLen
	if blockLen == 0 {
		blockLen = DefaultBufferLen
	}
	// The clock is validated before anything is allocated so that a failed
	// Begin retains no state.
	if err := s.engine.Configure(cfg.SampleRate); err != nil {
		return err
	}
	if err := s.ring.init(count, blockLen, render); err != nil {
		return err
	}
	s.queue.init(count - 1)
	s.render = render
	s.inflight = 0
	s.underruns = 0
	s.fault = nil
	s.state = stateStreaming
	if err := s.engine.Arm(s.ring.at(0).buf, s.complete); err != nil {
		s.state = stateIdle
		s.ring.release()
		s.render = nil
		return err
	}
	return nil
}

// End stops streaming and releases the buffer pool. It is idempotent:
// calling it while idle is a no-op, which keeps teardown safe in
// failure-recovery paths. A refill in progress when End is called is
// abandoned.
func (s *Session) End() {
	if s.state != stateStreaming {
		return
	}
	// The completion interrupt source dies first. Releasing the arena while
	// the engine can still write to it is the one memory-safety hazard this
	// ordering exists to prevent.
	s.engine.Disarm()
	s.state = stateIdle
	s.queue.clear()
	s.ring.release()
	s.render = nil
}

// complete is the completion handler. The engine runs it from its completion
// interrupt with the completion source masked, once per finished buffer. It
// reclaims the descriptor the engine just drained, refills it in place,
// queues it for reuse and returns the next buffer in ring order. A nil
// return tells the engine to stop streaming.
func (s *Session) complete() []uint32 {
	if s.state != stateStreaming || s.fault != nil {
		return nil
	}
	d := s.ring.at(s.inflight)
	d.owner = ownerSoftware
	s.render(d.buf)
	// While this handler runs the engine is already draining the next
	// descriptor in ring order. Retire its ready-queue entry now; whatever
	// remains queued is genuinely waiting its turn.
	if idx, err := s.queue.peek(); err == nil && idx == d.next {
		s.queue.pop()
	}
	if !s.queue.put(s.inflight) {
		// Refill is not keeping pace with the engine's drain. Evict the
		// oldest entry to stay bounded and keep streaming: an audible
		// glitch, not a crash.
		if _, err := s.queue.pop(); err != nil {
			// Cannot both be full and empty. Halt before state corrupts.
			s.fault = err
			return nil
		}
		s.underruns++
		if !s.queue.put(s.inflight) {
			s.fault = ErrQueueEmpty
			return nil
		}
	}
	d.owner = ownerHardware
	s.inflight = d.next
	return s.ring.at(s.inflight).buf
}

// Streaming reports whether the session is between a successful Begin and
// the next End.
func (s *Session) Streaming() bool { return s.state == stateStreaming }

// Underruns returns how many refilled buffers were discarded by the eviction
// policy since the last Begin. It is the session's only expected steady-state
// error signal and is approximate while streaming.
func (s *Session) Underruns() uint32 { return s.underruns }

// Err returns the sticky fault recorded by the completion handler, or nil.
// A non-nil fault means an internal invariant was violated and streaming has
// halted; End still applies.
func (s *Session) Err() error { return s.fault }
