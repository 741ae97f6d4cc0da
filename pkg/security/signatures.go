package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const markerPrefix = "AUDITOR_SIGNATURE_"

// SignatureInfo describes a verified auditor marker
type SignatureInfo struct {
	SignerID    string
	Subject     string
	SigningTime time.Time
	IsValid     bool
}

// Signer produces and verifies auditor signature markers.
// A marker binds the signer, the signed subject and the time with an HMAC.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer keyed with secret
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signature secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns AUDITOR_SIGNATURE_<unix>_<signer>_<mac>
func (s *Signer) Sign(signerID, subject string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return markerPrefix + ts + "_" + signerID + "_" + s.mac(ts, signerID, subject)
}

// Verify checks marker against subject
func (s *Signer) Verify(marker, subject string) (*SignatureInfo, error) {
	rest, ok := strings.CutPrefix(marker, markerPrefix)
	if !ok {
		return nil, errors.New("not an auditor signature")
	}
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed auditor signature")
	}

	unix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed signature time: %w", err)
	}

	expected := s.mac(parts[0], parts[1], subject)
	valid := hmac.Equal([]byte(expected), []byte(parts[2]))

	return &SignatureInfo{
		SignerID:    parts[1],
		Subject:     subject,
		SigningTime: time.Unix(unix, 0).UTC(),
		IsValid:     valid,
	}, nil
}

func (s *Signer) mac(ts, signerID, subject string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(ts + "|" + signerID + "|" + subject))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
