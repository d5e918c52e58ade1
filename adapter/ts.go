package adapter

import (
	"github.com/Comcast/gots/packet"
)

const syncByte = 0x47

// PacketCounter follows a transport stream byte by byte and counts packets
// per PID and continuity counter discontinuities.
type PacketCounter struct {
	partial    packet.Packet
	fill       int
	packets    map[int]uint64
	lastCC     map[int]int
	ccErrors   uint64
	resyncs    uint64
	totalBytes uint64
}

func NewPacketCounter() *PacketCounter {
	return &PacketCounter{
		packets: make(map[int]uint64),
		lastCC:  make(map[int]int),
	}
}

// Write feeds stream bytes into the counter. It never fails.
func (c *PacketCounter) Write(buf []byte) (int, error) {
	c.totalBytes += uint64(len(buf))
	for i := 0; i < len(buf); {
		if c.fill == 0 && buf[i] != syncByte {
			c.resyncs++
			i++
			continue
		}
		n := copy(c.partial[c.fill:], buf[i:])
		c.fill += n
		i += n
		if c.fill == packet.PacketSize {
			c.count(&c.partial)
			c.fill = 0
		}
	}
	return len(buf), nil
}

func (c *PacketCounter) count(pkt *packet.Packet) {
	pid := pkt.PID()
	c.packets[pid]++
	if pid == 0x1fff {
		return
	}
	cc := pkt.ContinuityCounter()
	if last, ok := c.lastCC[pid]; ok && cc != (last+1)&0x0f && cc != last {
		c.ccErrors++
	}
	c.lastCC[pid] = cc
}

// Packets returns the number of complete packets seen for the given PID.
func (c *PacketCounter) Packets(pid int) uint64 {
	return c.packets[pid]
}

// PIDs returns the number of distinct PIDs seen.
func (c *PacketCounter) PIDs() int {
	return len(c.packets)
}

func (c *PacketCounter) Total() uint64 {
	var result uint64
	for _, n := range c.packets {
		result += n
	}
	return result
}

func (c *PacketCounter) ContinuityErrors() uint64 {
	return c.ccErrors
}

// Resyncs returns the number of bytes skipped while searching for a sync byte.
func (c *PacketCounter) Resyncs() uint64 {
	return c.resyncs
}

func (c *PacketCounter) Bytes() uint64 {
	return c.totalBytes
}
