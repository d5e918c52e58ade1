package netceiver

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/mcli"
)

// bridge is the part of a slot that is shared with the library's callback
// context. It must never block and never take the slot's lock.
type bridge struct {
	writeFD    int
	activePIDs atomic.Int32
	status     *adapter.Status
	metrics    slotMetrics
	log        *logrus.Entry

	dropping atomic.Bool
	dropped  atomic.Uint64
}

// HandleTS forwards a payload into the adapter pipe. Payloads that arrive
// while no PIDs are requested are discarded. A full pipe drops the part that
// does not fit. The whole payload is always reported as consumed.
func (b *bridge) HandleTS(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	if b.activePIDs.Load() == 0 {
		b.metrics.discarded.Add(float64(len(buf)))
		return len(buf)
	}

	n, err := unix.Write(b.writeFD, buf)
	if n < 0 {
		n = 0
	}
	if n > 0 {
		b.metrics.forwarded.Add(float64(n))
	}

	if n == len(buf) {
		if b.dropping.CompareAndSwap(true, false) {
			b.log.Infof("forwarding resumed, %d bytes dropped", b.dropped.Swap(0))
		}
		return len(buf)
	}

	missing := len(buf) - n
	b.dropped.Add(uint64(missing))
	b.metrics.dropped.Add(float64(missing))
	if b.dropping.CompareAndSwap(false, true) {
		b.log.Warnf("not all data forwarded (%d of %d bytes): %v", n, len(buf), err)
	}
	return len(buf)
}

// HandleStatus stores the demodulator status of the adapter.
func (b *bridge) HandleStatus(st *mcli.FrontendStatus) int {
	if st == nil {
		return 0
	}
	strength := (st.Strength & 0xffff) >> 8
	snr := (st.SNR & 0xffff) >> 8
	locked := st.Status == mcli.StatusLocked

	b.status.Set(strength, locked, snr, st.BER)
	b.metrics.signal(strength, locked, snr, st.BER)
	return 0
}

// resetStatus zeroes the status and the signal gauges together.
func (b *bridge) resetStatus() {
	b.status.Reset()
	b.metrics.signal(0, false, 0, 0)
}

func (b *bridge) setActivePIDs(n int) {
	b.activePIDs.Store(int32(n))
}
