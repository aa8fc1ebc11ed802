package netutil

import "encoding/binary"

// Endian helpers over the wire formats used throughout the fabric: the
// ATM header word, the AAL5 trailer, and Ethernet/ISL header fields are
// all big-endian on the wire (per spec.md §4.5/§6), matching the
// original's m_ntoh32/m_hton32/m_ntoh16/m_hton16 helpers.

func GetUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

func GetUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
