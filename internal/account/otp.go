package account

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	otpDigits = 6
	// TestOTP is issued for every signup when test mode is on.
	TestOTP = "123456"
)

var otpSpace = big.NewInt(1_000_000)

// newOTP draws a uniformly distributed 6 digit code from r.
func newOTP(r io.Reader) (string, error) {
	n, err := rand.Int(r, otpSpace)
	if err != nil {
		return "", fmt.Errorf("mint otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
