// Package chain talks to the attendance smart contract.
package chain

import (
	"context"

	"chainattend/internal/datecode"
)

// Receipt summarises a confirmed transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"status"`
}

// Contract is the call surface of the attendance contract. Accounts are
// hex addresses; implementations compare them case-insensitively.
//
// Write methods submit a transaction and block until it is mined.
type Contract interface {
	Teacher(ctx context.Context) (string, error)
	StudentList(ctx context.Context) ([]string, error)
	IsStudent(ctx context.Context, account string) (bool, error)
	CheckAttendance(ctx context.Context, date datecode.Number, account string) (bool, error)
	AttendanceDates(ctx context.Context, account string) ([]datecode.Number, error)

	RegisterStudent(ctx context.Context, account string) (Receipt, error)
	RegisterStudents(ctx context.Context, accounts []string) (Receipt, error)
	MarkAttendance(ctx context.Context, date datecode.Number, account string, present bool) (Receipt, error)
}

// Dialer binds the contract to an account acting as transaction signer.
type Dialer interface {
	Dial(account string) (Contract, error)
}
