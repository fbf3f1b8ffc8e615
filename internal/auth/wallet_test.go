package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/nonce"
)

type wallet struct {
	priv    *secp256k1.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return wallet{priv: priv, address: PubkeyAddress(priv.PubKey())}
}

// sign produces the r||s||v hex signature a browser wallet would emit for
// the canonical challenge message.
func (w wallet) sign(t *testing.T, msg string) string {
	t.Helper()
	compact := secpecdsa.SignCompact(w.priv, personalDigest([]byte(msg)), false)
	eth := make([]byte, 65)
	copy(eth[:64], compact[1:])
	eth[64] = compact[0] - 27
	return "0x" + hex.EncodeToString(eth)
}

func TestVerifyWalletSignature(t *testing.T) {
	w := newWallet(t)
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	n := "a1b2c3d4e5f60718a1b2c3d4e5f60718"

	msg := nonce.Message(w.address, n, issued, issued.Add(ttl))
	sig := w.sign(t, msg)

	now := issued.Add(time.Minute)
	assert.NoError(t, VerifyWalletSignature(w.address, sig, n, issued, ttl, now))
}

func TestVerifyWalletSignatureWrongSigner(t *testing.T) {
	w := newWallet(t)
	other := newWallet(t)
	issued := time.Now()
	ttl := 5 * time.Minute
	n := "a1b2c3d4e5f60718a1b2c3d4e5f60718"

	msg := nonce.Message(w.address, n, issued, issued.Add(ttl))
	sig := other.sign(t, msg)

	err := VerifyWalletSignature(w.address, sig, n, issued, ttl, issued.Add(time.Second))
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyWalletSignatureWrongNonce(t *testing.T) {
	w := newWallet(t)
	issued := time.Now()
	ttl := 5 * time.Minute

	msg := nonce.Message(w.address, "aaaa", issued, issued.Add(ttl))
	sig := w.sign(t, msg)

	// Verification rebuilds the message from the stored nonce, so a
	// signature over different bytes recovers a different signer.
	err := VerifyWalletSignature(w.address, sig, "bbbb", issued, ttl, issued.Add(time.Second))
	assert.Error(t, err)
}

func TestVerifyWalletSignatureExpiredExactlyAtTTL(t *testing.T) {
	w := newWallet(t)
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	n := "a1b2c3d4e5f60718a1b2c3d4e5f60718"

	msg := nonce.Message(w.address, n, issued, issued.Add(ttl))
	sig := w.sign(t, msg)

	err := VerifyWalletSignature(w.address, sig, n, issued, ttl, issued.Add(ttl))
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestVerifyWalletSignatureAddressCaseInsensitive(t *testing.T) {
	w := newWallet(t)
	issued := time.Now()
	ttl := 5 * time.Minute
	n := "a1b2c3d4e5f60718a1b2c3d4e5f60718"

	upper := "0X" + w.address[2:]
	msg := nonce.Message(upper, n, issued, issued.Add(ttl))
	sig := w.sign(t, msg)

	assert.NoError(t, VerifyWalletSignature(upper, sig, n, issued, ttl, issued.Add(time.Second)))
}

func TestVerifyWalletSignatureMalformed(t *testing.T) {
	w := newWallet(t)
	issued := time.Now()
	for _, sig := range []string{"", "0x1234", "zzzz"} {
		err := VerifyWalletSignature(w.address, sig, "aaaa", issued, 5*time.Minute, issued.Add(time.Second))
		assert.ErrorIs(t, err, ErrSignatureMalformed, "signature %q", sig)
	}
}

func TestVerifyWalletSignatureLegacyVByte(t *testing.T) {
	w := newWallet(t)
	issued := time.Now()
	ttl := 5 * time.Minute
	n := "a1b2c3d4e5f60718a1b2c3d4e5f60718"

	msg := nonce.Message(w.address, n, issued, issued.Add(ttl))
	sig := w.sign(t, msg)

	// Some wallets emit v as 27/28 instead of 0/1.
	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	raw[64] += 27
	legacy := "0x" + hex.EncodeToString(raw)

	assert.NoError(t, VerifyWalletSignature(w.address, legacy, n, issued, ttl, issued.Add(time.Second)))
}
