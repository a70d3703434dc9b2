package chain

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainattend/internal/datecode"
)

//go:embed attendance_abi.json
var attendanceABIJSON string

var attendanceABI = mustParseABI(attendanceABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse attendance abi: %v", err))
	}
	return parsed
}

// Backend is what EthContract needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// EthContract is the go-ethereum binding of Contract.
type EthContract struct {
	address common.Address
	bound   *bind.BoundContract
	backend Backend
	opts    *bind.TransactOpts // nil for read-only handles
}

// NewEthContract binds the contract at address. opts may be nil, in which
// case write methods fail with ErrReadOnly.
func NewEthContract(address string, backend Backend, opts *bind.TransactOpts) (*EthContract, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	return &EthContract{
		address: addr,
		bound:   bind.NewBoundContract(addr, attendanceABI, backend, backend, backend),
		backend: backend,
		opts:    opts,
	}, nil
}

// ParseAddress validates a hex account address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func (c *EthContract) callOpts(ctx context.Context) *bind.CallOpts {
	opts := &bind.CallOpts{Context: ctx}
	if c.opts != nil {
		opts.From = c.opts.From
	}
	return opts
}

func (c *EthContract) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(c.callOpts(ctx), &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out[0], nil
}

// Teacher returns the contract's designated teacher address.
func (c *EthContract) Teacher(ctx context.Context) (string, error) {
	out, err := c.call(ctx, "teacher")
	if err != nil {
		return "", err
	}
	addr := *abi.ConvertType(out, new(common.Address)).(*common.Address)
	return addr.Hex(), nil
}

// StudentList returns the roster in contract order.
func (c *EthContract) StudentList(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, "getStudentList")
	if err != nil {
		return nil, err
	}
	addrs := *abi.ConvertType(out, new([]common.Address)).(*[]common.Address)
	roster := make([]string, len(addrs))
	for i, a := range addrs {
		roster[i] = a.Hex()
	}
	return roster, nil
}

func (c *EthContract) IsStudent(ctx context.Context, account string) (bool, error) {
	addr, err := ParseAddress(account)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, "isStudent", addr)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out, new(bool)).(*bool), nil
}

func (c *EthContract) CheckAttendance(ctx context.Context, date datecode.Number, account string) (bool, error) {
	addr, err := ParseAddress(account)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, "checkAttendance", dateArg(date), addr)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out, new(bool)).(*bool), nil
}

func (c *EthContract) AttendanceDates(ctx context.Context, account string) ([]datecode.Number, error) {
	addr, err := ParseAddress(account)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, "getAttendanceDates", addr)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out, new([]*big.Int)).(*[]*big.Int)
	dates := make([]datecode.Number, len(raw))
	for i, d := range raw {
		dates[i] = datecode.Number(d.Uint64())
	}
	return dates, nil
}

func (c *EthContract) RegisterStudent(ctx context.Context, account string) (Receipt, error) {
	addr, err := ParseAddress(account)
	if err != nil {
		return Receipt{}, err
	}
	return c.transact(ctx, "registerStudent", addr)
}

func (c *EthContract) RegisterStudents(ctx context.Context, accounts []string) (Receipt, error) {
	addrs := make([]common.Address, len(accounts))
	for i, a := range accounts {
		addr, err := ParseAddress(a)
		if err != nil {
			return Receipt{}, err
		}
		addrs[i] = addr
	}
	return c.transact(ctx, "registerStudents", addrs)
}

func (c *EthContract) MarkAttendance(ctx context.Context, date datecode.Number, account string, present bool) (Receipt, error) {
	addr, err := ParseAddress(account)
	if err != nil {
		return Receipt{}, err
	}
	return c.transact(ctx, "markAttendance", dateArg(date), addr, present)
}

// transact submits the call and waits for it to be mined.
func (c *EthContract) transact(ctx context.Context, method string, args ...interface{}) (Receipt, error) {
	if c.opts == nil {
		return Receipt{}, fmt.Errorf("%s: %w", method, ErrReadOnly)
	}
	opts := *c.opts
	opts.Context = ctx

	tx, err := c.bound.Transact(&opts, method, args...)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", method, err)
	}
	mined, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return Receipt{TxHash: tx.Hash().Hex()}, fmt.Errorf("%s: wait for %s: %w", method, tx.Hash().Hex(), err)
	}

	r := Receipt{
		TxHash:  mined.TxHash.Hex(),
		GasUsed: mined.GasUsed,
		Status:  mined.Status,
	}
	if mined.BlockNumber != nil {
		r.BlockNumber = mined.BlockNumber.Uint64()
	}
	if mined.Status == types.ReceiptStatusFailed {
		return r, fmt.Errorf("%s: %w (tx %s)", method, ErrReverted, r.TxHash)
	}
	return r, nil
}

func dateArg(date datecode.Number) *big.Int {
	return new(big.Int).SetUint64(uint64(date))
}

// EthDialer binds EthContract handles to wallet accounts.
type EthDialer struct {
	address string
	backend Backend
	wallet  *Wallet
	metrics *Metrics
}

// NewEthDialer creates a dialer. metrics may be nil.
func NewEthDialer(address string, backend Backend, wallet *Wallet, metrics *Metrics) *EthDialer {
	return &EthDialer{address: address, backend: backend, wallet: wallet, metrics: metrics}
}

// Dial returns a Contract that signs transactions with account's key.
func (d *EthDialer) Dial(account string) (Contract, error) {
	opts, err := d.wallet.TransactOpts(account)
	if err != nil {
		return nil, err
	}
	c, err := NewEthContract(d.address, d.backend, opts)
	if err != nil {
		return nil, err
	}
	if d.metrics == nil {
		return c, nil
	}
	return d.metrics.Wrap(c), nil
}
