package statistics

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// GenerateSSRC returns a random synchronization source identifier taken
// from the low 32 bits of a version 4 UUID. Zero is never returned.
func GenerateSSRC() uint32 {
	for {
		id := uuid.New()
		if ssrc := binary.BigEndian.Uint32(id[12:16]); ssrc != 0 {
			return ssrc
		}
	}
}

// GenerateCNAME returns a canonical name unique to this process instance.
func GenerateCNAME() string {
	return "rtspgw-" + uuid.NewString()
}
