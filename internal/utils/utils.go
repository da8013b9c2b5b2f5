package utils

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// CalculateHash generates a CRC32 hash of the data
func CalculateHash(data []byte) string {
	table := crc32.MakeTable(crc32.IEEE)
	return fmt.Sprintf("\"%08x\"", crc32.Checksum(data, table))
}

// GenerateRandomID generates a random ID for members and relay nodes
func GenerateRandomID() string {
	return uuid.NewString()
}

// RandomClientID returns a random non-zero replica client id
func RandomClientID() uint64 {
	for {
		id := uuid.New()
		if n := binary.BigEndian.Uint64(id[:8]); n != 0 {
			return n
		}
	}
}
