// Package crypto implements the PrivacyAgent's field-level protection:
// authenticated encryption, salted hashing for deduplication, and display
// masking for PII fields.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// PrivacyAgent encrypts, hashes, and masks PII fields before persistence.
// The stored encrypted blob is nonce || ciphertext || auth_tag, exactly as
// chacha20poly1305.Seal produces when the nonce is prepended by the caller.
type PrivacyAgent struct {
	aead chacha20poly1305.AEAD
	salt string
}

// NewPrivacyAgent builds a PrivacyAgent from a base64-encoded 32-byte key
// (ENCRYPTION_KEY) and a server-side pepper (HASH_SALT).
func NewPrivacyAgent(encryptionKeyB64, hashSalt string) (*PrivacyAgent, error) {
	key, err := base64.StdEncoding.DecodeString(encryptionKeyB64)
	if err != nil {
		return nil, fmt.Errorf("op=crypto.NewPrivacyAgent: decode key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("op=crypto.NewPrivacyAgent: %w", err)
	}
	return &PrivacyAgent{aead: aead, salt: hashSalt}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// nonce || ciphertext || tag.
func (p *PrivacyAgent) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("op=crypto.Encrypt: nonce: %w", err)
	}
	sealed := p.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return append(nonce, sealed...), nil
}

// Decrypt reverses Encrypt.
func (p *PrivacyAgent) Decrypt(blob []byte) (string, error) {
	nonceSize := p.aead.NonceSize()
	if len(blob) < nonceSize {
		return "", fmt.Errorf("op=crypto.Decrypt: %w", errTooShort)
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("op=crypto.Decrypt: %w", err)
	}
	return string(plaintext), nil
}

var errTooShort = fmt.Errorf("ciphertext shorter than nonce")

// HashEmail returns a salted SHA-256 digest over the lowercased local-part
// of an email, enabling duplicate detection without exposing plaintext.
func (p *PrivacyAgent) HashEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	return p.hash(strings.ToLower(strings.TrimSpace(local)))
}

// HashPhone returns a salted SHA-256 digest over the digit-only phone number.
func (p *PrivacyAgent) HashPhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return p.hash(digits.String())
}

func (p *PrivacyAgent) hash(normalized string) string {
	h := sha256.Sum256([]byte(p.salt + normalized))
	return hex.EncodeToString(h[:])
}

// MaskPhone renders "010-****-5678" style masking: keep the first 3 and
// last 4 digits, mask the middle run.
func MaskPhone(phone string) string {
	var digits []rune
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 7 {
		return strings.Repeat("*", len(digits))
	}
	prefix := string(digits[:3])
	suffix := string(digits[len(digits)-4:])
	return fmt.Sprintf("%s-****-%s", prefix, suffix)
}

// MaskEmail renders "a***@b" style masking: first local-part character,
// stars, then the first character of the domain.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "***"
	}
	local := email[:at]
	domain := email[at+1:]
	firstLocal := local[:1]
	firstDomain := domain[:1]
	return fmt.Sprintf("%s***@%s", firstLocal, firstDomain)
}

// MaskAddress reduces an address to its first locality token (e.g. the
// first comma-separated segment, or the first word if unstructured).
func MaskAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if idx := strings.IndexByte(address, ','); idx > 0 {
		return strings.TrimSpace(address[:idx])
	}
	fields := strings.Fields(address)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
