// Package metadata lays out and manages the blocks of a growable region: the address-ordered ledger of
// free and in-use blocks, the fit strategies that choose a free block for a request, splitting of
// oversized blocks, and coalescing of adjacent free blocks.
//
// Block headers live inside the region itself, immediately before each block's payload:
//
//	offset  0: payload size in bytes (uint64, little endian)
//	offset  8: offset of the next block's header, 0 when this block is the tail (uint32)
//	offset 12: tag, a 16-bit magic value plus the free bit (uint32)
//
// The head block always starts at offset 0, which is why a next link of 0 can mean "none". Every
// read or write of a header goes through the accessors in this file.
package metadata

import (
	"encoding/binary"
	"math"
)

const (
	// HeaderSize is the number of bytes of bookkeeping in front of every block's payload
	HeaderSize int = 16
	// Alignment is the allocation unit: every payload size and payload offset is a multiple of it
	Alignment int = 4
	// MaxRegionSize is the largest region a ledger can describe, bounded by the width of the next link
	MaxRegionSize int = math.MaxUint32

	headerSizeField = 0
	headerNextField = 8
	headerTagField  = 12

	headerMagic     uint32 = 0xB10C0000
	headerMagicMask uint32 = 0xFFFF0000
	headerFreeBit   uint32 = 1
)

// BlockOffset identifies a block by the offset of its header within the region
type BlockOffset uint32

const (
	// NoBlock is the BlockOffset value that refers to no block at all
	NoBlock BlockOffset = math.MaxUint32
)

func (l *Ledger) header(block BlockOffset) []byte {
	offset := int(block)
	return l.region.Bytes()[offset : offset+HeaderSize : offset+HeaderSize]
}

func (l *Ledger) writeHeader(block BlockOffset, size int, next BlockOffset, free bool) {
	header := l.header(block)
	binary.LittleEndian.PutUint64(header[headerSizeField:], uint64(size))
	l.setNext(block, next)
	l.setFree(block, free)
}

// scrubHeader erases the tag of a header that is no longer part of the ledger, so that a stale
// pointer to the removed block is recognized as foreign.
func (l *Ledger) scrubHeader(block BlockOffset) {
	header := l.header(block)
	binary.LittleEndian.PutUint32(header[headerTagField:], 0)
}

// BlockSize is the payload size of the block, in bytes
func (l *Ledger) BlockSize(block BlockOffset) int {
	return int(binary.LittleEndian.Uint64(l.header(block)[headerSizeField:]))
}

func (l *Ledger) setSize(block BlockOffset, size int) {
	binary.LittleEndian.PutUint64(l.header(block)[headerSizeField:], uint64(size))
}

// Next returns the block that follows block in address order, or NoBlock for the tail
func (l *Ledger) Next(block BlockOffset) BlockOffset {
	next := binary.LittleEndian.Uint32(l.header(block)[headerNextField:])
	if next == 0 {
		return NoBlock
	}

	return BlockOffset(next)
}

func (l *Ledger) setNext(block BlockOffset, next BlockOffset) {
	link := uint32(next)
	if next == NoBlock {
		link = 0
	}
	binary.LittleEndian.PutUint32(l.header(block)[headerNextField:], link)
}

// IsFree returns true if the block is not currently handed out
func (l *Ledger) IsFree(block BlockOffset) bool {
	return binary.LittleEndian.Uint32(l.header(block)[headerTagField:])&headerFreeBit != 0
}

func (l *Ledger) setFree(block BlockOffset, free bool) {
	tag := headerMagic
	if free {
		tag |= headerFreeBit
	}
	binary.LittleEndian.PutUint32(l.header(block)[headerTagField:], tag)
}

func (l *Ledger) hasValidTag(block BlockOffset) bool {
	return binary.LittleEndian.Uint32(l.header(block)[headerTagField:])&headerMagicMask == headerMagic
}

// PayloadOffset is the offset within the region of the first byte of the block's payload
func (l *Ledger) PayloadOffset(block BlockOffset) int {
	return int(block) + HeaderSize
}

// Payload returns the block's payload. The slice aliases region memory and is capped at the block's size.
func (l *Ledger) Payload(block BlockOffset) []byte {
	start := l.PayloadOffset(block)
	end := start + l.BlockSize(block)
	return l.region.Bytes()[start:end:end]
}
