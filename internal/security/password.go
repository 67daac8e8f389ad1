package security

import "golang.org/x/crypto/bcrypt"

// passwordHashCost is the bcrypt work factor for registry account
// passwords.
const passwordHashCost = 12

// HashPassword returns the bcrypt hash of a plaintext password for
// storage on the user row.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword reports whether plain matches the stored hash.
func CheckPassword(hashed, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
