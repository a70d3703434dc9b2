package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"chainattend/internal/chain"
)

var (
	ErrUnknownChallenge = errors.New("unknown or expired sign-in challenge")
	ErrBadSignature     = errors.New("signature does not match account")
)

// Challenge is a single-use message the account owner must sign
// (personal_sign) to open a session.
type Challenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pending struct {
	account common.Address
	message string
	expires time.Time
}

// Challenges issues and redeems sign-in nonces.
type Challenges struct {
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	pending map[string]pending
}

func NewChallenges(ttl time.Duration) *Challenges {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Challenges{ttl: ttl, nowFunc: time.Now, pending: make(map[string]pending)}
}

// Issue creates a challenge bound to account.
func (c *Challenges) Issue(account string) (Challenge, error) {
	addr, err := chain.ParseAddress(account)
	if err != nil {
		return Challenge{}, err
	}
	now := c.nowFunc()
	nonce := uuid.NewString()
	ch := Challenge{
		Nonce:     nonce,
		Message:   fmt.Sprintf("Sign in to chainattend as %s\nNonce: %s", addr.Hex(), nonce),
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for n, p := range c.pending {
		if !now.Before(p.expires) {
			delete(c.pending, n)
		}
	}
	c.pending[nonce] = pending{account: addr, message: ch.Message, expires: ch.ExpiresAt}
	return ch, nil
}

// Verify redeems nonce. The signature must be account's personal_sign of
// the challenge message. A nonce is consumed even when verification fails.
func (c *Challenges) Verify(account, nonce, signature string) error {
	addr, err := chain.ParseAddress(account)
	if err != nil {
		return err
	}
	c.mu.Lock()
	p, ok := c.pending[nonce]
	delete(c.pending, nonce)
	c.mu.Unlock()

	if !ok || !c.nowFunc().Before(p.expires) || p.account != addr {
		return ErrUnknownChallenge
	}
	return VerifyPersonalSign(addr, p.message, signature)
}

// Len reports how many challenges are outstanding.
func (c *Challenges) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// VerifyPersonalSign checks a 65-byte [R || S || V] signature over the
// EIP-191 text hash of message. V may be 0/1 or 27/28.
func VerifyPersonalSign(addr common.Address, message, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrBadSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return ErrBadSignature
	}
	if crypto.PubkeyToAddress(*pub) != addr {
		return ErrBadSignature
	}
	return nil
}
