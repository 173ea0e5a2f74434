// Package pipeline runs the request-update flow: validate configuration,
// dry-run the source, decode the result, encode the request and submit it
// to the consumer contract, strictly in that order.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"web3nst/chain"
	"web3nst/config"
	"web3nst/functions"
)

// Outcome records what each step produced
type Outcome struct {
	Simulation *functions.SimulationResult
	// SimulationErr is set when the dry run failed; it only aborts the run
	// when simulation success is required
	SimulationErr error
	Decoded       any
	Request       *functions.Request
	Payload       []byte
	Transaction   *chain.Transaction
}

// RequestUpdater wires the steps of one request-update run
type RequestUpdater struct {
	cfg       *config.Config
	simulator functions.Simulator
	dial      chain.Dialer
}

// NewRequestUpdater creates a RequestUpdater. A nil dial uses chain.DialRPC.
func NewRequestUpdater(cfg *config.Config, simulator functions.Simulator, dial chain.Dialer) *RequestUpdater {
	if dial == nil {
		dial = chain.DialRPC
	}
	return &RequestUpdater{
		cfg:       cfg,
		simulator: simulator,
		dial:      dial,
	}
}

// Run executes the flow once. Configuration problems are reported before
// the simulator or the RPC endpoint is touched.
func (u *RequestUpdater) Run(ctx context.Context) (*Outcome, error) {
	if err := u.cfg.ValidateRequestUpdate(); err != nil {
		return nil, err
	}

	fc := u.cfg.Functions
	cc := u.cfg.Chain

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cc.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	donID, err := functions.DonIDToBytes32(cc.DonID)
	if err != nil {
		return nil, err
	}
	returnType, err := functions.ParseReturnType(fc.ReturnType)
	if err != nil {
		return nil, err
	}

	source, err := os.ReadFile(fc.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", fc.SourcePath, err)
	}

	req := functions.NewRequest(string(source), fc.Args, fc.BytesArgs)
	req.EncryptedSecretsReference = fc.EncryptedSecretsRef
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request %s: %w", fc.SourcePath, err)
	}

	outcome := &Outcome{Request: req}

	u.simulate(ctx, outcome, functions.SimulationRequest{
		Source:    string(source),
		Args:      fc.Args,
		BytesArgs: fc.BytesArgs,
		Secrets:   fc.Secrets,
	}, returnType)

	if outcome.SimulationErr != nil && fc.RequireSimulationSuccess {
		return outcome, fmt.Errorf("aborting before submission: %w", outcome.SimulationErr)
	}

	log.Info().Msg("Make request...")

	payload, err := req.Encode()
	if err != nil {
		return outcome, fmt.Errorf("failed to encode request: %w", err)
	}
	outcome.Payload = payload

	log.Debug().
		Str("payload", hexutil.Encode(payload)).
		Msg("Encoded functions request")

	backend, err := u.dial(ctx, cc.RPCURL)
	if err != nil {
		return outcome, err
	}
	if closer, ok := backend.(interface{ Close() }); ok {
		defer closer.Close()
	}

	submitter := chain.NewSubmitter(backend, key, common.HexToAddress(cc.ConsumerAddress), cc.WaitForReceipt)
	tx, err := submitter.UpdateRequest(ctx, chain.UpdateRequest{
		Payload:        payload,
		SubscriptionID: cc.SubscriptionID,
		GasLimit:       uint32(cc.GasLimit),
		DonID:          donID,
	})
	outcome.Transaction = tx
	if err != nil {
		return outcome, err
	}

	log.Info().
		Str("tx_hash", tx.Hash.Hex()).
		Str("explorer", fmt.Sprintf("%s/tx/%s", strings.TrimSuffix(cc.ExplorerURL, "/"), tx.Hash.Hex())).
		Msg("Automated Functions request settings updated")

	return outcome, nil
}

// simulate runs the dry run and decodes its result. Failures are recorded
// on the outcome and logged, never returned.
func (u *RequestUpdater) simulate(ctx context.Context, outcome *Outcome, req functions.SimulationRequest, returnType functions.ReturnType) {
	log.Info().Msg("Start simulation...")

	result, err := u.simulator.Simulate(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("Simulation could not run")
		outcome.SimulationErr = &functions.SimulationError{Message: err.Error()}
		return
	}
	outcome.Simulation = result

	log.Info().
		Str("response", result.ResponseBytesHexstring).
		Str("error", result.ErrorString).
		Str("output", result.CapturedTerminalOutput).
		Msg("Simulation result")

	if result.Failed() {
		log.Error().
			Str("error", result.ErrorString).
			Msg("Error during simulation")
		outcome.SimulationErr = result.Err()
		return
	}

	value, ok, err := result.Decode(returnType)
	if err != nil {
		log.Warn().Err(err).Str("return_type", string(returnType)).Msg("Failed to decode simulation response")
		return
	}
	if ok {
		outcome.Decoded = value
		log.Info().
			Str("return_type", string(returnType)).
			Str("value", fmt.Sprint(value)).
			Msg("Decoded simulation response")
	}
}
