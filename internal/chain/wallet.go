package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet holds the signing keys of the accounts this process may act as.
type Wallet struct {
	chainID *big.Int
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address
}

// NewWallet loads hex-encoded secp256k1 private keys. Duplicates are ignored.
func NewWallet(hexKeys []string, chainID *big.Int) (*Wallet, error) {
	w := &Wallet{
		chainID: chainID,
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys)),
	}
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if raw == "" {
			continue
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("signer key %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, ok := w.keys[addr]; ok {
			continue
		}
		w.keys[addr] = key
		w.order = append(w.order, addr)
	}
	return w, nil
}

// Accounts lists the wallet's addresses in load order.
func (w *Wallet) Accounts() []string {
	out := make([]string, len(w.order))
	for i, a := range w.order {
		out[i] = a.Hex()
	}
	return out
}

// Has reports whether account is one of the wallet's addresses.
func (w *Wallet) Has(account string) bool {
	addr, err := ParseAddress(account)
	if err != nil {
		return false
	}
	_, ok := w.keys[addr]
	return ok
}

// TransactOpts returns signing options for account.
func (w *Wallet) TransactOpts(account string) (*bind.TransactOpts, error) {
	addr, err := ParseAddress(account)
	if err != nil {
		return nil, err
	}
	key, ok := w.keys[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	return bind.NewKeyedTransactorWithChainID(key, w.chainID)
}
