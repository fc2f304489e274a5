package vaultguard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const totpSecretSize = 20

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager implements RFC 6238 time-based one-time passwords over
// RFC 4226 HOTP. SHA-1 is the algorithm authenticator apps implement
// universally; the secret is per-user and short-lived codes limit
// exposure.
type totpManager struct {
	digits int
	period int
	skew   int
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{
		digits: cfg.Digits,
		period: cfg.Period,
		skew:   cfg.Skew,
	}
}

// GenerateSecret returns a fresh base32-encoded TOTP secret.
func (t *totpManager) GenerateSecret() (string, error) {
	raw := make([]byte, totpSecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32NoPad.EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI encoded into enrollment
// QR codes.
func (t *totpManager) ProvisioningURI(secret, accountName, issuer string) string {
	label := url.PathEscape(issuer + ":" + accountName)

	params := url.Values{}
	params.Set("secret", secret)
	params.Set("issuer", issuer)
	params.Set("algorithm", "SHA1")
	params.Set("digits", fmt.Sprintf("%d", t.digits))
	params.Set("period", fmt.Sprintf("%d", t.period))

	return "otpauth://totp/" + label + "?" + params.Encode()
}

// Verify reports whether code is valid for the secret at the given
// instant, accepting up to skew periods of clock drift on either side.
func (t *totpManager) Verify(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != t.digits {
		return false
	}

	raw, err := base32NoPad.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return false
	}

	counter := at.Unix() / int64(t.period)
	for offset := -t.skew; offset <= t.skew; offset++ {
		candidate, err := hotp(raw, counter+int64(offset), t.digits)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true
		}
	}

	return false
}

func hotp(secret []byte, counter int64, digits int) (string, error) {
	if counter < 0 {
		return "", errors.New("negative hotp counter")
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, truncated%mod), nil
}
