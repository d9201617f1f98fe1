package payments

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// The gateway rejects order references longer than 20 ASCII characters.
const orderIDLength = 20

// GenerateOrderID produces a gateway order reference: a millisecond timestamp
// prefix for ordering plus a crypto/rand suffix so a pending order cannot be
// guessed. Only the random suffix is truncated to fit the length limit; the
// timestamp prefix always survives intact.
func GenerateOrderID() (string, error) {
	prefix := strconv.FormatInt(time.Now().UnixMilli(), 10)
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	suffix := hex.EncodeToString(buf[:])
	if room := orderIDLength - len(prefix); room < len(suffix) {
		suffix = suffix[:room]
	}
	return prefix + suffix, nil
}
