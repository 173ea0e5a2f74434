package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind separates failures the operator handles differently
type ErrorKind string

const (
	// KindNetwork means the RPC endpoint could not be reached or answered
	KindNetwork ErrorKind = "network"
	// KindRevert means the node or the contract rejected the call
	KindRevert ErrorKind = "revert"
	// KindSigner means the transaction could not be signed locally
	KindSigner ErrorKind = "signer"
)

var ErrTransactionFailed = errors.New("transaction mined with failed status")

// SubmissionError is returned by every failing Submitter operation
type SubmissionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a SubmissionError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var serr *SubmissionError
	return errors.As(err, &serr) && serr.Kind == kind
}

var revertMarkers = []string{
	"execution reverted",
	"out of gas",
	"gas required exceeds allowance",
	"intrinsic gas too low",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"no contract code at given address",
}

// classify maps a transport or node error onto an ErrorKind. Anything the
// node answered with a JSON-RPC error counts as a rejection; everything
// else is treated as a network failure.
func classify(op string, err error) *SubmissionError {
	msg := strings.ToLower(err.Error())
	for _, marker := range revertMarkers {
		if strings.Contains(msg, marker) {
			return &SubmissionError{Kind: KindRevert, Op: op, Err: err}
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &SubmissionError{Kind: KindRevert, Op: op, Err: err}
	}

	return &SubmissionError{Kind: KindNetwork, Op: op, Err: err}
}
