package registration

import (
	"crypto/rand"
	"math/big"
)

const (
	tempPasswordLength = 12
	upperChars         = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars         = "abcdefghijkmnopqrstuvwxyz"
	digitChars         = "23456789"
	symbolChars        = "!@#$%^&*"
)

// GenerateTemporaryPassword returns a random password holding at least one
// character of each class.
func GenerateTemporaryPassword() (string, error) {
	classes := []string{upperChars, lowerChars, digitChars, symbolChars}
	all := upperChars + lowerChars + digitChars + symbolChars

	out := make([]byte, 0, tempPasswordLength)
	for _, class := range classes {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < tempPasswordLength {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
