package byteorder

import (
	"encoding/binary"
)

// https://linux.die.net/man/3/ntohs
//
// h = host, n = network, s = short = 16 bit. frame headers only carry shorts.

// AppendHtons appends val to dst in network byte order.
func AppendHtons(dst []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, val)
}

// Ntohs reads a network-order short from the first two bytes of buf.
func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}
