//go:build rp2040

// Package rp2040 implements the hardware side of an i2s streaming session on
// the RP2040: a PIO state machine generates the I2S bit clock, word select
// and data signals, a DMA channel feeds the state machine's TX FIFO one
// session buffer at a time, and the channel's completion interrupt drives
// the session's refill cycle.
package rp2040

import (
	"machine"

	"github.com/tinygo-org/i2s"
	pio "github.com/tinygo-org/pio/rp2-pio"
)

// Output streams 32-bit stereo frames (left sample in the high half) out of
// a PIO state machine speaking the I2S serial format. It implements
// i2s.Engine.
type Output struct {
	sm       pio.StateMachine
	dma      dmaChannel
	complete i2s.CompleteFunc
	offset   uint8
	data     machine.Pin
	clock    machine.Pin
	armed    bool
}

// The program spends 2 cycles per data bit and shifts 32 bits per stereo
// frame, so the state machine clock runs at 64x the sample rate.
const cyclesPerFrame = 64

const sidesetBits = 2

// NewOutput assembles the I2S program on sm's PIO, configures the pins and
// claims a DMA channel. data carries SDIN; clockAndSelect and the next
// consecutive pin carry BCLK and LRCLK, in that order, matching the usual
// PCM510x DAC wiring.
//
// The state machine stays halted until a session is armed.
func NewOutput(sm pio.StateMachine, data, clockAndSelect machine.Pin) (*Output, error) {
	sm.TryClaim() // SM should be claimed beforehand, we just guarantee it's claimed.
	Pio := sm.PIO()

	// https://github.com/raspberrypi/pico-extras/blob/09c64d509f1d7a49ceabde699ed6c74c77e195a1/src/rp2_common/pico_audio_i2s/audio_i2s.pio
	// Side-set bit 0 is BCLK, bit 1 is LRCLK. Each channel shifts 16 bits:
	// one up front, 15 around the loop, with BCLK toggling every
	// instruction pair. Entry point is the last instruction, which loads
	// the first loop counter.
	const (
		bitloop1 = 0 // left channel, LRCLK high
		bitloop0 = 4 // right channel, LRCLK low
		entry    = 7
		origin   = -1
	)
	program := [...]uint16{
		bitloop1 + 0: pio.EncodeOut(pio.SrcDestPins, 1) | pio.EncodeSideSet(sidesetBits, 0b10),
		bitloop1 + 1: pio.EncodeJmp(bitloop1, pio.JmpXNZeroDec) | pio.EncodeSideSet(sidesetBits, 0b11),
		bitloop1 + 2: pio.EncodeOut(pio.SrcDestPins, 1) | pio.EncodeSideSet(sidesetBits, 0b00),
		bitloop1 + 3: pio.EncodeSet(pio.SrcDestX, 14) | pio.EncodeSideSet(sidesetBits, 0b01),
		bitloop0 + 0: pio.EncodeOut(pio.SrcDestPins, 1) | pio.EncodeSideSet(sidesetBits, 0b00),
		bitloop0 + 1: pio.EncodeJmp(bitloop0, pio.JmpXNZeroDec) | pio.EncodeSideSet(sidesetBits, 0b01),
		bitloop0 + 2: pio.EncodeOut(pio.SrcDestPins, 1) | pio.EncodeSideSet(sidesetBits, 0b10),
		entry: pio.EncodeSet(pio.SrcDestX, 14) | pio.EncodeSideSet(sidesetBits, 0b11),
	}

	offset, err := Pio.AddProgram(program[:], origin)
	if err != nil {
		return nil, err
	}

	dma, err := claimDMAChannel()
	if err != nil {
		return nil, err
	}

	o := &Output{
		sm:     sm,
		dma:    dma,
		offset: offset,
		data:   data,
		clock:  clockAndSelect,
	}
	o.configurePins()

	cfg := pio.DefaultStateMachineConfig()
	cfg.SetWrap(offset, offset+uint8(len(program))-1)
	cfg.SetSidesetParams(sidesetBits, false, false)
	cfg.SetOutPins(data, 1)
	cfg.SetSidesetPins(clockAndSelect)
	cfg.SetOutShift(false, true, 32)
	sm.Init(offset, cfg)

	pinMask := uint32(1<<data) | uint32(0b11<<clockAndSelect)
	sm.SetPindirsMasked(pinMask, pinMask)
	sm.SetPinsMasked(0, pinMask)
	sm.Exec(pio.EncodeJmp(offset+entry, pio.JmpAlways))
	return o, nil
}

func (o *Output) configurePins() {
	pinCfg := machine.PinConfig{Mode: o.sm.PIO().PinMode()}
	o.data.Configure(pinCfg)
	o.clock.Configure(pinCfg)
	(o.clock + 1).Configure(pinCfg)
}

// Configure programs the state machine clock divider for the given sample
// rate. It returns i2s.ErrInvalidRate when the divider cannot reach the
// bit-clock frequency the rate implies.
func (o *Output) Configure(sampleRate uint32) error {
	whole, frac, err := pio.ClkDivFromFrequency(sampleRate*cyclesPerFrame, machine.CPUFrequency())
	if err != nil {
		return i2s.ErrInvalidRate
	}
	o.sm.SetClkDiv(whole, frac)
	return nil
}

// Arm points the DMA channel at the state machine's TX FIFO, unmasks the
// completion interrupt, starts the serial clock and triggers the first
// transfer.
func (o *Output) Arm(first []uint32, complete i2s.CompleteFunc) error {
	if o.armed {
		return i2s.ErrBusy
	}
	o.complete = complete
	o.configurePins()
	o.dma.configure(o.sm.TxReg(), dreqPIOTx(o.sm.PIO().BlockIndex(), o.sm.StateMachineIndex()))
	enableCompletion(o.dma, o.handleCompletion)
	o.armed = true
	o.sm.SetEnabled(true)
	o.dma.queueTransfer(first)
	return nil
}

// handleCompletion runs in interrupt context each time the channel finishes
// a buffer, with the completion source already acknowledged and masked. The
// FIFO keeps draining the last words while the session refills the finished
// buffer, so the next transfer starts without an audible seam.
func (o *Output) handleCompletion() {
	next := o.complete()
	if next == nil {
		// Session stopped or faulted: leave the channel idle. The FIFO
		// runs dry and the wire goes quiet until Disarm.
		return
	}
	o.dma.queueTransfer(next)
}

// Disarm masks the completion interrupt, flushes the DMA channel, halts the
// serial clock and gives the pins back their default function. After Disarm
// returns no reference to session memory remains in flight, so the session
// may release its buffers. Safe to call repeatedly.
func (o *Output) Disarm() {
	if !o.armed {
		return
	}
	disableCompletion(o.dma)
	o.dma.abort()
	o.sm.SetEnabled(false)
	o.armed = false
	o.complete = nil

	pinCfg := machine.PinConfig{Mode: machine.PinInput}
	o.data.Configure(pinCfg)
	o.clock.Configure(pinCfg)
	(o.clock + 1).Configure(pinCfg)
}

// Release unclaims the DMA channel and state machine once the Output is no
// longer needed. The Output must be disarmed.
func (o *Output) Release() {
	o.Disarm()
	o.dma.unclaim()
	o.sm.Unclaim()
}
