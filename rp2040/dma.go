//go:build rp2040

package rp2040

import (
	"device/rp"
	"errors"
	"math/bits"
	"runtime"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

const timeoutRetries = 0xffff * 8

var errNoDMAChannel = errors.New("i2s: no free DMA channel")

// Single DMA channel. See rp.DMA_Type. The AL1..AL3 aliases expose the same
// four registers in different orders; writing the register that an alias
// name ends in triggers the channel.
type dmaChannelHW struct {
	READ_ADDR            volatile.Register32
	WRITE_ADDR           volatile.Register32
	TRANS_COUNT          volatile.Register32
	CTRL_TRIG            volatile.Register32
	AL1_CTRL             volatile.Register32
	AL1_READ_ADDR        volatile.Register32
	AL1_WRITE_ADDR       volatile.Register32
	AL1_TRANS_COUNT_TRIG volatile.Register32
	AL2_CTRL             volatile.Register32
	AL2_TRANS_COUNT      volatile.Register32
	AL2_READ_ADDR        volatile.Register32
	AL2_WRITE_ADDR_TRIG  volatile.Register32
	AL3_CTRL             volatile.Register32
	AL3_WRITE_ADDR       volatile.Register32
	AL3_TRANS_COUNT      volatile.Register32
	AL3_READ_ADDR_TRIG   volatile.Register32
}

// DMA channels usable on the RP2040.
const numDMAChannels = 12

var dmaChannels = (*[numDMAChannels]dmaChannelHW)(unsafe.Pointer(rp.DMA))

// claimedDMAChannels tracks channels handed out by claimDMAChannel.
var claimedDMAChannels uint16

type dmaChannel struct {
	hw      *dmaChannelHW
	channel uint8
}

// claimDMAChannel reserves a free channel for the lifetime of the claimer.
// There is no hardware claim register; the bitmask only coordinates users of
// this package.
func claimDMAChannel() (dmaChannel, error) {
	for i := uint8(0); i < numDMAChannels; i++ {
		if claimedDMAChannels&(1<<i) == 0 {
			claimedDMAChannels |= 1 << i
			return dmaChannel{hw: &dmaChannels[i], channel: i}, nil
		}
	}
	return dmaChannel{}, errNoDMAChannel
}

func (ch dmaChannel) unclaim() {
	claimedDMAChannels &^= 1 << ch.channel
}

// dreqPIOTx returns the DREQ index pacing transfers into the TX FIFO of a
// state machine: PIO0 TX0..TX3 are DREQ 0..3, PIO1 TX0..TX3 are DREQ 8..11.
func dreqPIOTx(block, sm uint8) uint32 {
	return uint32(block)*8 + uint32(sm)
}

// configure programs the channel control word without triggering: 32-bit
// transfers paced by dreq, reading up through memory into the fixed register
// at dst.
func (ch dmaChannel) configure(dst *volatile.Register32, dreq uint32) {
	ch.hw.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(dst))))
	var cc dmaChannelConfig
	cc.CTRL = ch.hw.CTRL_TRIG.Get()
	cc.setTREQ_SEL(dreq)
	cc.setTransferDataSize(dmaTxSize32)
	cc.setChainTo(uint32(ch.channel)) // chain to self: no chaining
	cc.setReadIncrement(true)
	cc.setWriteIncrement(false)
	cc.setIRQQuiet(false)
	cc.setEnable(true)
	ch.hw.AL1_CTRL.Set(cc.CTRL)
}

// queueTransfer starts streaming src through the configured channel. Writing
// the read address through its trigger alias starts the transfer, so the
// count must land first.
func (ch dmaChannel) queueTransfer(src []uint32) {
	ch.hw.TRANS_COUNT.Set(uint32(len(src)))
	ch.hw.AL3_READ_ADDR_TRIG.Set(uint32(uintptr(unsafe.Pointer(&src[0]))))
}

func (ch dmaChannel) busy() bool {
	return ch.hw.CTRL_TRIG.Get()&rp.DMA_CH0_CTRL_TRIG_BUSY != 0
}

// abort aborts the current transfer sequence on the channel and blocks until
// all in-flight transfers have been flushed through the address and data
// FIFOs. After this, it is safe to restart the channel.
func (ch dmaChannel) abort() {
	chMask := uint32(1 << ch.channel)
	rp.DMA.CHAN_ABORT.Set(chMask)
	retries := timeoutRetries
	for rp.DMA.CHAN_ABORT.Get()&chMask != 0 && retries > 0 {
		gosched()
		retries--
	}
	if retries == 0 {
		println("i2s: DMA abort timeout")
	}
}

// Completion interrupts for every channel this package claims dispatch
// through DMA_IRQ_0.
var (
	dmaHandlers   [numDMAChannels]func()
	dmaIRQEnabled bool
)

// enableCompletion routes the channel's completion to fn and unmasks it on
// DMA_IRQ_0. fn runs in interrupt context with the channel's completion
// already acknowledged.
func enableCompletion(ch dmaChannel, fn func()) {
	dmaHandlers[ch.channel] = fn
	rp.DMA.INTR.Set(1 << ch.channel) // drop any stale completion
	rp.DMA.INTE0.SetBits(1 << ch.channel)
	if !dmaIRQEnabled {
		intr := interrupt.New(rp.IRQ_DMA_IRQ_0, dmaIRQHandler)
		intr.Enable()
		dmaIRQEnabled = true
	}
}

// disableCompletion masks the channel on DMA_IRQ_0 and detaches its handler.
// Pending completions are cleared: after this returns fn will not run again.
func disableCompletion(ch dmaChannel) {
	rp.DMA.INTE0.ClearBits(1 << ch.channel)
	rp.DMA.INTR.Set(1 << ch.channel)
	dmaHandlers[ch.channel] = nil
}

func dmaIRQHandler(interrupt.Interrupt) {
	status := rp.DMA.INTS0.Get()
	rp.DMA.INTS0.Set(status) // acknowledge everything we are about to handle
	for status != 0 {
		i := uint8(bits.TrailingZeros32(status))
		status &^= 1 << i
		if fn := dmaHandlers[i]; fn != nil {
			fn()
		}
	}
}

type dmaTxSize uint32

const (
	dmaTxSize8 dmaTxSize = iota
	dmaTxSize16
	dmaTxSize32
)

type dmaChannelConfig struct {
	CTRL uint32
}

func (cc *dmaChannelConfig) setTREQ_SEL(dreq uint32) {
	cc.CTRL = (cc.CTRL & ^uint32(rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Msk)) | (dreq << rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos)
}

func (cc *dmaChannelConfig) setChainTo(chainTo uint32) {
	cc.CTRL = (cc.CTRL & ^uint32(rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Msk)) | (chainTo << rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos)
}

func (cc *dmaChannelConfig) setTransferDataSize(size dmaTxSize) {
	cc.CTRL = (cc.CTRL & ^uint32(rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Msk)) | (uint32(size) << rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Pos)
}

func (cc *dmaChannelConfig) setReadIncrement(incr bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_INCR_READ_Pos, incr)
}

func (cc *dmaChannelConfig) setWriteIncrement(incr bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_INCR_WRITE_Pos, incr)
}

func (cc *dmaChannelConfig) setIRQQuiet(quiet bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_IRQ_QUIET_Pos, quiet)
}

func (cc *dmaChannelConfig) setEnable(enable bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_EN_Pos, enable)
}

func setBitPos(cc *uint32, pos uint32, bit bool) {
	if bit {
		*cc = *cc | (1 << pos)
	} else {
		*cc = *cc & ^(1 << pos) // unset bit.
	}
}

func gosched() {
	runtime.Gosched()
}
