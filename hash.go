package main

import (
	"crypto/sha512"
	"encoding/hex"
)

// sha512Hex returns the lowercase hex SHA-512 digest of s.
func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// saltedPasswordHash derives the password value the portal expects:
// sha512(sha512(salt) + sha512(password)), every digest hex-encoded.
// The order of the two inner digests is part of the portal contract.
func saltedPasswordHash(salt, password string) string {
	return sha512Hex(sha512Hex(salt) + sha512Hex(password))
}
