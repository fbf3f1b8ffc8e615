package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"authgate/internal/nonce"
)

var (
	ErrChallengeExpired   = errors.New("auth: challenge expired")
	ErrSignatureMismatch  = errors.New("auth: signature does not match address")
	ErrSignatureMalformed = errors.New("auth: malformed signature")
)

// VerifyWalletSignature checks that signature was produced by the holder of
// address over the canonical challenge message, and that the challenge is
// still inside its lifetime. now-issuedAt exactly at ttl is rejected.
//
// The signature is the 65-byte r||s||v personal-sign output, hex encoded
// with an optional 0x prefix and v in {0,1,27,28}.
func VerifyWalletSignature(address, signature, challengeNonce string, issuedAt time.Time, ttl time.Duration, now time.Time) error {
	if now.Sub(issuedAt) >= ttl {
		return ErrChallengeExpired
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) != 65 {
		return ErrSignatureMalformed
	}
	v := raw[64]
	if v < 27 {
		v += 27
	}
	// RecoverCompact wants the recovery header first.
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], raw[:64])

	msg := nonce.Message(address, challengeNonce, issuedAt, issuedAt.Add(ttl))
	pub, _, err := secpecdsa.RecoverCompact(compact, personalDigest([]byte(msg)))
	if err != nil {
		return ErrSignatureMalformed
	}
	if !strings.EqualFold(PubkeyAddress(pub), address) {
		return ErrSignatureMismatch
	}
	return nil
}

// PubkeyAddress derives the 0x-prefixed address from an uncompressed public
// key: the last 20 bytes of keccak256(pubkey without the 0x04 header).
func PubkeyAddress(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

// personalDigest hashes msg inside the personal-message envelope so that a
// signed challenge can never double as a transaction.
func personalDigest(msg []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d", len(msg))
	h.Write(msg)
	return h.Sum(nil)
}
