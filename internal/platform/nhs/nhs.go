// Package nhs implements NHS Number validation and the pseudonymous
// identifier shared with the management interface.
package nhs

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// NumberLength is the length of a well-formed NHS Number.
const NumberLength = 10

// IsValidNumber reports whether s is a ten character NHS Number whose last
// character is the modulus 11 check digit of the first nine.
func IsValidNumber(s string) bool {
	if len(s) != NumberLength {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += (10 - i) * int(c-'0')
	}

	check := 11 - sum%11
	switch check {
	case 10:
		return false
	case 11:
		check = 0
	}

	return s[9] == byte('0'+check)
}

// scrypt parameters agreed with the management interface.
const (
	pseudoN      = 32768
	pseudoR      = 12
	pseudoP      = 6
	pseudoKeyLen = 64
)

// PseudoID derives the care recipient pseudonymous id from an NHS Number
// and a birth date formatted YYYY-MM-DD, which acts as the salt.
func PseudoID(nhsNumber, birthDate string) (string, error) {
	key, err := scrypt.Key([]byte(nhsNumber), []byte(birthDate), pseudoN, pseudoR, pseudoP, pseudoKeyLen)
	if err != nil {
		return "", fmt.Errorf("nhs: derive pseudo id: %w", err)
	}
	return hex.EncodeToString(key), nil
}
