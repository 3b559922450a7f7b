package protocol

import "hash/crc32"

// reflected 0xEDB88320, built once
var crcTable = crc32.MakeTable(crc32.IEEE)

// Checksum returns the CRC32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// ChecksumString returns the CRC32 of the UTF-8 bytes of s.
func ChecksumString(s string) uint32 {
	return crc32.Checksum([]byte(s), crcTable)
}
