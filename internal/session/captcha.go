package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	CaptchaLength   = 6
	captchaAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// generateCaptcha returns CaptchaLength uniformly chosen characters from
// A-Z0-9.
func generateCaptcha() (string, error) {
	max := big.NewInt(int64(len(captchaAlphabet)))
	b := make([]byte, CaptchaLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating captcha: %w", err)
		}
		b[i] = captchaAlphabet[n.Int64()]
	}
	return string(b), nil
}
