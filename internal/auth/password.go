package auth

import (
	"unicode/utf8"

	"github.com/alexedwards/argon2id"
)

// MinPasswordLength applies to every password set through the API.
const MinPasswordLength = 6

// ValidPassword reports whether password has at least MinPasswordLength
// characters. Multi-byte characters count once.
func ValidPassword(password string) bool {
	return utf8.RuneCountInString(password) >= MinPasswordLength
}

var params = &argon2id.Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hash returns an argon2id hash with its parameters encoded.
func Hash(password string) (string, error) {
	return argon2id.CreateHash(password, params)
}

func Verify(password, encodedHash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(password, encodedHash)
}
