package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

func isBcrypt(hash string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(hash, p) {
			return true
		}
	}
	return false
}

// verifyBcrypt checks hashes provisioned before the switch to argon2id.
// bcrypt compares in constant time internally.
func verifyBcrypt(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BcryptCost reports the cost factor of a bcrypt hash, or false when hash
// is not bcrypt.
func BcryptCost(hash string) (int, bool) {
	if !isBcrypt(hash) {
		return 0, false
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, false
	}
	return cost, true
}
