package auth

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainattend/internal/chain"
)

func signText(t *testing.T, k *ecdsa.PrivateKey, message string, v27 bool) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), k)
	require.NoError(t, err)
	if v27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return hexutil.Encode(sig)
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k, crypto.PubkeyToAddress(k.PublicKey).Hex()
}

func TestChallengeVerify(t *testing.T) {
	owner, account := newKey(t)
	other, _ := newKey(t)
	c := NewChallenges(time.Minute)

	ch, err := c.Issue(account)
	require.NoError(t, err)
	assert.Contains(t, ch.Message, account)
	assert.Contains(t, ch.Message, ch.Nonce)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Verify(account, ch.Nonce, signText(t, owner, ch.Message, true)))
	assert.Zero(t, c.Len())
	assert.ErrorIs(t, c.Verify(account, ch.Nonce, signText(t, owner, ch.Message, true)), ErrUnknownChallenge, "nonce is single-use")

	ch, err = c.Issue(account)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Verify(account, ch.Nonce, signText(t, other, ch.Message, true)), ErrBadSignature)
	assert.ErrorIs(t, c.Verify(account, ch.Nonce, signText(t, owner, ch.Message, true)), ErrUnknownChallenge, "failed attempts consume the nonce")
}

func TestChallengeBoundToAccount(t *testing.T) {
	owner, account := newKey(t)
	_, victim := newKey(t)
	c := NewChallenges(time.Minute)

	ch, err := c.Issue(account)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Verify(victim, ch.Nonce, signText(t, owner, ch.Message, true)), ErrUnknownChallenge)

	_, err = c.Issue("not-an-address")
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)
}

func TestChallengeExpiry(t *testing.T) {
	owner, account := newKey(t)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	c := NewChallenges(time.Minute)
	c.nowFunc = func() time.Time { return now }

	ch, err := c.Issue(account)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), ch.ExpiresAt)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, c.Verify(account, ch.Nonce, signText(t, owner, ch.Message, true)), ErrUnknownChallenge)

	// stale challenges are pruned on the next issue
	_, err = c.Issue(account)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = c.Issue(account)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestVerifyPersonalSign(t *testing.T) {
	owner, account := newKey(t)
	addr, err := chain.ParseAddress(account)
	require.NoError(t, err)
	const msg = "Sign in to chainattend"

	tests := []struct {
		name    string
		sig     string
		wantErr error
	}{
		{name: "v 27/28", sig: signText(t, owner, msg, true)},
		{name: "v 0/1", sig: signText(t, owner, msg, false)},
		{name: "other message", sig: signText(t, owner, msg+"!", true), wantErr: ErrBadSignature},
		{name: "not hex", sig: "signature", wantErr: ErrBadSignature},
		{name: "short", sig: "0x1234", wantErr: ErrBadSignature},
		{name: "empty", sig: "", wantErr: ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPersonalSign(addr, msg, tt.sig)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
