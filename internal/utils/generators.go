package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// GenerateOTP returns a 6-digit numeric one-time code drawn uniformly
// from [0, 1000000).
func GenerateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		// crypto/rand failing means the platform RNG is broken; fall back to
		// a timestamp-derived code rather than handing out a constant.
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1_000_000)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// GenerateProofToken returns an unguessable single-use attendance token
// (128 bits, hex encoded).
func GenerateProofToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return GenerateUUID()
	}
	return hex.EncodeToString(buf)
}

// GenerateUUID creates a random UUID v4
func GenerateUUID() string {
	uuid := make([]byte, 16)
	_, err := rand.Read(uuid)
	if err != nil {
		return fmt.Sprintf("id_%d", time.Now().UnixNano())
	}

	// Set version to 4 (random)
	uuid[6] = (uuid[6] & 0x0F) | 0x40
	// Set variant to RFC4122
	uuid[8] = (uuid[8] & 0x3F) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x",
		uuid[0:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:])
}
