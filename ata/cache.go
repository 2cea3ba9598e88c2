package ata

import "github.com/robrohan/ipodpatcher/console"

// CacheBlocks is the number of 512 byte slots in the sector cache.
// Reads wider than one block overwrite several slots in one go.
const CacheBlocks = 16

// invalidBlock is the slot sentinel for "no block cached here". It can never
// collide with a real block number, those top out below the LBA48 range.
const invalidBlock = ^uint32(0)

// sectorCache is a fixed-capacity least-recently-used mapping from block
// number to block data, owned exclusively by the Device.
type sectorCache struct {
	log *console.Console

	data  []byte
	addr  [CacheBlocks]uint32
	tick  [CacheBlocks]uint32
	ticks uint32
}

func newSectorCache(log *console.Console) *sectorCache {
	c := &sectorCache{
		log:  log,
		data: make([]byte, CacheBlocks*BlockSize),
	}
	c.clear()
	return c
}

// clear drops every cached block.
func (c *sectorCache) clear() {
	c.ticks = 0
	for i := range c.addr {
		c.addr[i] = invalidBlock
		c.tick[i] = 0
	}
}

// find returns the slot index holding block, or -1. A hit counts as a touch
// and refreshes the slot's age.
func (c *sectorCache) find(block uint32) int {
	if block == invalidBlock {
		return -1
	}

	for i := range c.addr {
		if c.addr[i] == block {
			c.ticks++
			c.tick[i] = c.ticks
			return i
		}
	}

	return -1
}

// create returns the slot index to hold block, reusing an existing slot for
// the same block if there is one and otherwise evicting the slot with the
// lowest access tick.
func (c *sectorCache) create(block uint32) int {
	idx := c.find(block)

	if idx < 0 {
		idx = 0
		for i := range c.tick {
			if c.tick[i] < c.tick[idx] {
				idx = i
			}
		}
	}

	c.addr[idx] = block
	c.tick[idx] = c.ticks

	return idx
}

// buffer returns the 512 byte data slice of a slot. An out-of-range index
// cannot happen with the indices find and create hand out; if it does, the
// cache bookkeeping is corrupt and the boot cannot continue.
func (c *sectorCache) buffer(idx int) []byte {
	if idx < 0 || idx >= CacheBlocks {
		c.log.Fatalf("invalid cache index: %d is out of bounds", idx)
		return nil
	}
	return c.data[idx*BlockSize : (idx+1)*BlockSize]
}
