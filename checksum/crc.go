// Package checksum implements the integrity checks used by the containers:
// table-driven CRCs over a reversed polynomial and the Fletcher family of
// two-sum checksums, of which Adler-32 is a member.
package checksum

import (
	"encoding/binary"
	"hash"
)

// IEEE is the reversed form of the CRC-32 polynomial used by PNG, gzip and
// Ethernet.
const IEEE = 0xedb88320

// Table is a 256-word lookup table for a reversed CRC-32 polynomial.
type Table [256]uint32

// MakeTable builds the lookup table for poly, given in reversed form.
func MakeTable(poly uint32) *Table {
	t := new(Table)
	for i := range t {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}

// IEEETable is the table for IEEE.
var IEEETable = MakeTable(IEEE)

// Update returns the result of adding the bytes in p to crc. Both crc and
// the result are finalised values, so Update(0, t, p) is the checksum of p.
func Update(crc uint32, tab *Table, p []byte) uint32 {
	crc = ^crc
	for _, v := range p {
		crc = tab[byte(crc)^v] ^ crc>>8
	}
	return ^crc
}

// CRC32 returns the IEEE CRC-32 of p.
func CRC32(p []byte) uint32 {
	return Update(0, IEEETable, p)
}

type crcDigest struct {
	crc uint32
	tab *Table
}

// New returns a hash.Hash32 computing the CRC-32 for tab.
func New(tab *Table) hash.Hash32 {
	return &crcDigest{tab: tab}
}

// NewCRC32 returns a hash.Hash32 computing the IEEE CRC-32.
func NewCRC32() hash.Hash32 {
	return New(IEEETable)
}

func (d *crcDigest) Size() int      { return 4 }
func (d *crcDigest) BlockSize() int { return 1 }
func (d *crcDigest) Reset()         { d.crc = 0 }
func (d *crcDigest) Sum32() uint32  { return d.crc }

func (d *crcDigest) Write(p []byte) (int, error) {
	d.crc = Update(d.crc, d.tab, p)
	return len(p), nil
}

func (d *crcDigest) Sum(in []byte) []byte {
	return binary.BigEndian.AppendUint32(in, d.crc)
}
