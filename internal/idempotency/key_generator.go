package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CommandKey derives the store key of an operator command. The command name is
// part of the key so ids reused across commands never collide.
func CommandKey(cmd, commandID string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(cmd))))
	h.Write([]byte{0})
	h.Write([]byte(commandID))

	return hex.EncodeToString(h.Sum(nil)[:16])
}
