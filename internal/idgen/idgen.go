// Package idgen generates session identifiers: a binary stem, a launch
// timestamp, and a short collision suffix, in a base36
// content-addressed style.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// encodeBase36 converts data to a base36 string of exactly length
// characters, truncating to the least-significant digits if the natural
// encoding is longer and left-padding with zeros if shorter.
func encodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}
	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// stem returns the binary's base name with any extension removed, the
// part of the path a human would recognize the session by.
func stem(binaryPath string) string {
	base := filepath.Base(binaryPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == "/" {
		return "session"
	}
	return base
}

// New derives a session id from the binary path and launch timestamp
// (UnixNano). nonce is bumped by the caller on collision against the
// live session map; it never needs to be bumped more than a handful of
// times since launchNanos alone is already unique to the nanosecond.
func New(binaryPath string, launchNanos int64, nonce int) string {
	content := fmt.Sprintf("%s|%d|%d", binaryPath, launchNanos, nonce)
	hash := sha256.Sum256([]byte(content))
	suffix := encodeBase36(hash[:4], 6)
	return fmt.Sprintf("%s-%s", stem(binaryPath), suffix)
}
