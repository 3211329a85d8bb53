// Package cache implements spec.md §4.1's write-back sector cache: a
// fixed number of slots, clock (second-chance) replacement, one lock per
// slot plus a global admission lock serializing lookups and victim
// selection, and an explicit flush-on-shutdown path. It is a direct port
// of original_source/src/filesys/cache.c's buffer_cache_* functions.
package cache

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "cache")

// DefaultSlotCount matches spec.md §3's "typically 64" (NUM_CACHE in the
// original).
const DefaultSlotCount = 64

// Device is the raw sector device a Cache sits in front of.
type Device interface {
	SectorSize() int
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
}

// slot is one cache_entry: a single sector's worth of data plus its own
// lock, mirroring struct buffer_cache_entry.
type slot struct {
	mu        sync.Mutex
	valid     bool
	dirty     bool
	reference bool
	sector    uint32
	data      []byte
}

// Cache is a fixed-size write-back sector cache over a Device.
type Cache struct {
	dev Device

	// admission serializes lookup and victim selection, matching the
	// original's single buffer_cache_lock (spec.md §5's lock order:
	// inode metadata lock, THEN this admission lock, THEN a slot lock).
	admission sync.Mutex

	slots      []*slot
	clockHand  int
	sectorSize int
}

// New builds a Cache with slotCount slots (DefaultSlotCount if <= 0) over
// dev.
func New(dev Device, slotCount int) *Cache {
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}
	sectorSize := dev.SectorSize()
	slots := make([]*slot, slotCount)
	for i := range slots {
		slots[i] = &slot{data: make([]byte, sectorSize)}
	}
	return &Cache{
		dev:        dev,
		slots:      slots,
		sectorSize: sectorSize,
	}
}

// SectorSize returns the underlying device's sector size.
func (c *Cache) SectorSize() int {
	return c.sectorSize
}

// ReadSector copies size bytes from sector at sectorPos into buf[pos:],
// matching buffer_cache_read's (sec, buf, pos, size, sector_pos) shape.
func (c *Cache) ReadSector(sec uint32, buf []byte, pos, size, sectorPos int) error {
	if err := c.checkBounds(size, sectorPos); err != nil {
		return err
	}
	if s := c.lookup(sec); s != nil {
		s.mu.Lock()
		copy(buf[pos:pos+size], s.data[sectorPos:sectorPos+size])
		s.reference = true
		s.mu.Unlock()
		log.WithField("sector", sec).Debug("cache hit on read")
		return nil
	}

	c.admission.Lock()
	target := c.selectVictimLocked()
	target.mu.Lock()
	c.flushSlotLocked(target)
	target.valid = true
	target.reference = true
	target.dirty = false
	target.sector = sec
	err := c.dev.ReadSector(sec, target.data)
	if err == nil {
		copy(buf[pos:pos+size], target.data[sectorPos:sectorPos+size])
	}
	target.mu.Unlock()
	c.admission.Unlock()
	if err != nil {
		return fmt.Errorf("cache: fill sector %d: %w", sec, err)
	}
	log.WithField("sector", sec).Debug("cache miss on read")
	return nil
}

// WriteSector copies size bytes from buf[pos:] into sector at sectorPos,
// matching buffer_cache_write.
func (c *Cache) WriteSector(sec uint32, buf []byte, pos, size, sectorPos int) error {
	if err := c.checkBounds(size, sectorPos); err != nil {
		return err
	}
	if s := c.lookup(sec); s != nil {
		s.mu.Lock()
		copy(s.data[sectorPos:sectorPos+size], buf[pos:pos+size])
		s.reference = true
		s.dirty = true
		s.mu.Unlock()
		log.WithField("sector", sec).Debug("cache hit on write")
		return nil
	}

	c.admission.Lock()
	target := c.selectVictimLocked()
	target.mu.Lock()
	c.flushSlotLocked(target)
	target.valid = true
	target.reference = true
	target.dirty = true
	target.sector = sec
	// Fault in the rest of the sector first so a partial-sector write
	// doesn't clobber the bytes outside [sectorPos, sectorPos+size).
	err := c.dev.ReadSector(sec, target.data)
	if err == nil {
		copy(target.data[sectorPos:sectorPos+size], buf[pos:pos+size])
	}
	target.mu.Unlock()
	c.admission.Unlock()
	if err != nil {
		return fmt.Errorf("cache: fault-in sector %d before write: %w", sec, err)
	}
	log.WithField("sector", sec).Debug("cache miss on write")
	return nil
}

// ReadFullSector is a convenience over ReadSector for whole-sector
// transfers (dst must be exactly SectorSize() long), used by inode and
// freemap.
func (c *Cache) ReadFullSector(sec uint32, dst []byte) error {
	return c.ReadSector(sec, dst, 0, c.sectorSize, 0)
}

// WriteFullSector is the write counterpart of ReadFullSector.
func (c *Cache) WriteFullSector(sec uint32, src []byte) error {
	return c.WriteSector(sec, src, 0, c.sectorSize, 0)
}

func (c *Cache) checkBounds(size, sectorPos int) error {
	if size < 0 || sectorPos < 0 || sectorPos+size > c.sectorSize {
		return fmt.Errorf("cache: out-of-bounds transfer (pos=%d size=%d sector_size=%d)", sectorPos, size, c.sectorSize)
	}
	return nil
}

// lookup scans every slot for one holding sec, under the admission lock,
// exactly like buffer_cache_lookup's linear valid_bit+disk_sector scan.
func (c *Cache) lookup(sec uint32) *slot {
	c.admission.Lock()
	defer c.admission.Unlock()
	for _, s := range c.slots {
		if s.valid && s.sector == sec {
			return s
		}
	}
	return nil
}

// selectVictimLocked runs the clock sweep. Caller must hold c.admission.
func (c *Cache) selectVictimLocked() *slot {
	for {
		s := c.slots[c.clockHand]
		c.clockHand = (c.clockHand + 1) % len(c.slots)

		s.mu.Lock()
		if !s.valid || !s.reference {
			s.mu.Unlock()
			return s
		}
		s.reference = false
		s.mu.Unlock()
	}
}

// flushSlotLocked writes a dirty slot back to disk and clears it,
// matching buffer_cache_flush_entry. Caller must hold s.mu.
func (c *Cache) flushSlotLocked(s *slot) {
	if !s.valid || !s.dirty {
		return
	}
	s.dirty = false
	if err := c.dev.WriteSector(s.sector, s.data); err != nil {
		log.WithError(err).WithField("sector", s.sector).Warn("flush failed, dirty data lost")
	}
	for i := range s.data {
		s.data[i] = 0
	}
}

// Shutdown flushes every dirty slot back to disk, matching
// buffer_cache_terminate's call to buffer_cache_flush_all.
func (c *Cache) Shutdown() error {
	var firstErr error
	for _, s := range c.slots {
		s.mu.Lock()
		if s.valid && s.dirty {
			if err := c.dev.WriteSector(s.sector, s.data); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("cache: shutdown flush sector %d: %w", s.sector, err)
			}
			s.dirty = false
		}
		s.mu.Unlock()
	}
	if firstErr != nil {
		log.WithError(firstErr).Warn("shutdown flush encountered an error")
	}
	return firstErr
}
