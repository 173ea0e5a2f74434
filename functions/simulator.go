package functions

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxResponseBytes is the largest response a script may return
const MaxResponseBytes = 256

// SimulationRequest is the input of a dry run
type SimulationRequest struct {
	Source    string
	Args      []string
	BytesArgs []string
	Secrets   map[string]string
}

// SimulationResult is the outcome of a dry run. A script level failure is
// reported through ErrorString, not as a Go error.
type SimulationResult struct {
	ResponseBytesHexstring string `json:"responseBytesHexstring"`
	ErrorString            string `json:"errorString,omitempty"`
	CapturedTerminalOutput string `json:"capturedTerminalOutput,omitempty"`
}

// Simulator runs request source off-chain. It never sends a transaction.
type Simulator interface {
	Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error)
}

// Failed reports whether the script raised an error
func (r *SimulationResult) Failed() bool {
	return r.ErrorString != ""
}

// ResponseBytes returns the raw response, nil when absent or malformed
func (r *SimulationResult) ResponseBytes() []byte {
	if r.ResponseBytesHexstring == "" {
		return nil
	}
	b, err := hexutil.Decode(r.ResponseBytesHexstring)
	if err != nil {
		return nil
	}
	return b
}

// Decode interprets the response as rt. ok is false, with no error, when
// the script failed or returned no bytes; nothing is decoded then.
func (r *SimulationResult) Decode(rt ReturnType) (value any, ok bool, err error) {
	if r.Failed() || len(r.ResponseBytes()) == 0 {
		return nil, false, nil
	}

	value, err = DecodeResult(r.ResponseBytesHexstring, rt)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// SimulationError is a script failure seen during the dry run
type SimulationError struct {
	Message string
	Output  string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %s", e.Message)
}

// Err returns the script failure as an error, nil when the run succeeded
func (r *SimulationResult) Err() error {
	if !r.Failed() {
		return nil
	}
	return &SimulationError{Message: r.ErrorString, Output: r.CapturedTerminalOutput}
}
