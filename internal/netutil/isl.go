package netutil

import "hash/crc32"

// ISLHeaderLen is the size of the Cisco Inter-Switch Link encapsulation
// prepended to a trunked Ethernet frame.
const ISLHeaderLen = 26

// islFCSLen is the trailing frame check sequence appended after the
// encapsulated frame. Unlike the AAL5 trailer's CRC-32, the ISL FCS is the
// ordinary reflected Ethernet CRC-32, so it reuses hash/crc32's IEEE table
// rather than the hand-rolled AAL5 one.
const islFCSLen = 4

// IsISLMulticast reports whether dst is the ISL trunking multicast prefix
// 01:00:0C:00:10:xx that marks a frame as ISL-encapsulated.
func IsISLMulticast(dst []byte) bool {
	return len(dst) >= 6 &&
		dst[0] == 0x01 && dst[1] == 0x00 && dst[2] == 0x0C &&
		dst[3] == 0x00 && dst[4] == 0x10
}

// RewriteISL patches byte 4 of the ISL header's destination address to vlan
// and recomputes the trailing FCS over the encapsulated frame, in place.
// frame must be an ISL-encapsulated frame: a 26-byte header, the
// encapsulated Ethernet frame, and a 4-byte FCS.
func RewriteISL(frame []byte, vlan byte) bool {
	if len(frame) < ISLHeaderLen+islFCSLen {
		return false
	}
	if !IsISLMulticast(frame[:6]) {
		return false
	}

	frame[4] = vlan

	payload := frame[:len(frame)-islFCSLen]
	fcs := crc32.ChecksumIEEE(payload)
	PutUint32(frame[len(frame)-islFCSLen:], fcs)
	return true
}
