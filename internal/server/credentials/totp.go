package credentials

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// TOTPPeriod is the time step of generated tokens.
	TOTPPeriod = 30
	// TOTPSkew accepts tokens from one step before or after the current one.
	TOTPSkew = 1
	// BackupCodeCount is how many backup codes a confirmed setup issues.
	BackupCodeCount = 10
)

var validateOpts = totp.ValidateOpts{
	Period:    TOTPPeriod,
	Skew:      TOTPSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTP creates a new base32 secret and its otpauth:// provisioning URI.
func GenerateTOTP(issuer, account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// VerifyTOTP validates a 6-digit token at the given time.
func VerifyTOTP(secret, token string, now time.Time) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(token), secret, now, validateOpts)
	return err == nil && ok
}

// MatchTOTP validates token like VerifyTOTP and also returns the time step
// it was generated for, so callers can refuse a step they already accepted.
func MatchTOTP(secret, token string, now time.Time) (int64, bool) {
	token = strings.TrimSpace(token)
	matched, found := int64(0), false
	for skew := -TOTPSkew; skew <= TOTPSkew; skew++ {
		t := now.Add(time.Duration(skew*TOTPPeriod) * time.Second)
		code, err := TOTPCode(secret, t)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(token)) == 1 {
			matched, found = TOTPStep(t), true
		}
	}
	return matched, found
}

// TOTPStep returns the time step t falls into.
func TOTPStep(t time.Time) int64 {
	return t.Unix() / TOTPPeriod
}

// TOTPCode computes the token for secret at t.
func TOTPCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts)
}

// GenerateBackupCodes returns n random codes formatted as xxxxx-xxxxx.
// Only their HashCode digests are stored.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := common.MakeRandHexString(5)
		if err != nil {
			return nil, err
		}
		codes = append(codes, s[:5]+"-"+s[5:])
	}
	return codes, nil
}

// NormalizeBackupCode lowercases and trims user input so "ABCDE-12345 "
// matches the stored digest.
func NormalizeBackupCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// IsTOTPToken reports whether s looks like a 6-digit token rather than a
// backup code.
func IsTOTPToken(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
