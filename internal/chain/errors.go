package chain

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrReverted       = errors.New("transaction reverted")
	ErrReadOnly       = errors.New("contract handle has no signer")
	ErrUnknownAccount = errors.New("account not available in wallet")
)

// ErrorMessage returns the most specific message carried by err: the decoded
// revert reason or the node's error message when one is nested inside, the
// plain error text otherwise.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			return "execution reverted: " + reason
		}
		return dataErr.Error()
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Error()
	}
	return err.Error()
}

func revertReason(data interface{}) (string, bool) {
	var raw []byte
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return "", false
		}
		raw = b
	case []byte:
		raw = v
	default:
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
