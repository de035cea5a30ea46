// Package crcutil provides the CRC function the spec treats as an
// external collaborator over byte ranges. The wire format (superblock,
// index, node descriptors) is fixed at 16-bit CRCs, so this package
// exposes CRC16 truncated from the standard library's CRC-32/IEEE, the
// same checksum family the teacher repo already reaches for in
// wal_manager/helpers.go.
package crcutil

import "hash/crc32"

// CRC16 returns a 16-bit checksum over b. It is the low 16 bits of the
// IEEE CRC-32 of b, which is sufficient entropy for the detector role
// the format needs (flag a misread/misallocated block, not cryptographic
// integrity) and lets the implementation reuse hash/crc32 instead of
// hand-rolling a CRC-16 polynomial table.
func CRC16(b []byte) uint16 {
	return uint16(crc32.ChecksumIEEE(b))
}

// Verify reports whether b's checksum matches want.
func Verify(b []byte, want uint16) bool {
	return CRC16(b) == want
}
