package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword produces a bcrypt hash of plain at the given cost. An
// out-of-range cost falls back to bcrypt's default rather than
// erroring, so a misconfigured deployment still hashes safely.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword checks plain against a stored bcrypt hash.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
