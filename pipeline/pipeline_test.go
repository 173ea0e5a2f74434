package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"web3nst/chain"
	"web3nst/config"
	"web3nst/functions"
)

const testPrivateKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type fakeSimulator struct {
	calls  int
	result *functions.SimulationResult
	err    error
}

func (f *fakeSimulator) Simulate(ctx context.Context, req functions.SimulationRequest) (*functions.SimulationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeBackend struct {
	bind.ContractBackend
	chainIDErr error
	sent       *types.Transaction
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	return big.NewInt(80001), nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = tx
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil
}

type dialRecorder struct {
	calls   int
	backend *fakeBackend
	err     error
}

func (d *dialRecorder) dial(ctx context.Context, rpcURL string) (chain.Backend, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.backend, nil
}

func testConfig(t *testing.T, source string) *config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "source.js")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}

	return &config.Config{
		Functions: config.FunctionsConfig{
			SourcePath:        path,
			Args:              []string{},
			BytesArgs:         []string{},
			Secrets:           map[string]string{},
			ReturnType:        "uint256",
			Simulator:         config.SimulatorLocal,
			SimulationTimeout: 2 * time.Second,
		},
		Chain: config.ChainConfig{
			PrivateKey:      testPrivateKey,
			RPCURL:          "http://127.0.0.1:8545",
			ConsumerAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			SubscriptionID:  1,
			GasLimit:        300000,
			DonID:           config.DefaultDonID,
			ExplorerURL:     config.DefaultExplorerURL,
		},
	}
}

func uint256Result(v byte) *functions.SimulationResult {
	b := make([]byte, 32)
	b[31] = v
	return &functions.SimulationResult{ResponseBytesHexstring: "0x" + common.Bytes2Hex(b)}
}

func TestRun_MissingSecretsFailBeforeAnyWork(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"no private key", func(c *config.Config) { c.Chain.PrivateKey = "" }},
		{"no rpc url", func(c *config.Config) { c.Chain.RPCURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "return Functions.encodeUint256(1)")
			tt.mutate(cfg)

			sim := &fakeSimulator{result: uint256Result(1)}
			dialer := &dialRecorder{backend: &fakeBackend{}}

			_, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())

			var cerr *config.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Run() error = %v, want *config.ConfigError", err)
			}
			if sim.calls != 0 {
				t.Errorf("simulator called %d times, want 0", sim.calls)
			}
			if dialer.calls != 0 {
				t.Errorf("RPC dialed %d times, want 0", dialer.calls)
			}
		})
	}
}

func TestRun_SubmitsMostRecentPayload(t *testing.T) {
	source := "return Functions.encodeUint256(42)"
	cfg := testConfig(t, source)
	cfg.Functions.Args = []string{"a"}

	sim := &fakeSimulator{result: uint256Result(42)}
	backend := &fakeBackend{}
	dialer := &dialRecorder{backend: backend}

	outcome, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Decoded.(*big.Int).Int64() != 42 {
		t.Errorf("Decoded = %v, want 42", outcome.Decoded)
	}

	wantPayload, err := functions.NewRequest(source, []string{"a"}, []string{}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(outcome.Payload, wantPayload) {
		t.Errorf("Payload = %x, want %x", outcome.Payload, wantPayload)
	}

	var donID [32]byte
	copy(donID[:], config.DefaultDonID)
	wantData, err := chain.PackUpdateRequest(chain.UpdateRequest{
		Payload:        wantPayload,
		SubscriptionID: 1,
		GasLimit:       300000,
		DonID:          donID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if backend.sent == nil || !bytes.Equal(backend.sent.Data(), wantData) {
		t.Errorf("calldata does not reference the encoded payload")
	}
	if outcome.Transaction == nil || outcome.Transaction.Hash != backend.sent.Hash() {
		t.Errorf("Transaction = %+v", outcome.Transaction)
	}
}

// A failing dry run is advisory: nothing is decoded and the request is
// still submitted. RequireSimulationSuccess turns this into an abort.
func TestRun_SimulationErrorStillSubmits(t *testing.T) {
	cfg := testConfig(t, "throw new Error('x')")
	sim := &fakeSimulator{result: &functions.SimulationResult{ResponseBytesHexstring: "0x", ErrorString: "x"}}
	dialer := &dialRecorder{backend: &fakeBackend{}}

	outcome, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decoded != nil {
		t.Errorf("Decoded = %v, want nothing", outcome.Decoded)
	}
	var simErr *functions.SimulationError
	if !errors.As(outcome.SimulationErr, &simErr) {
		t.Errorf("SimulationErr = %v, want *functions.SimulationError", outcome.SimulationErr)
	}
	if dialer.calls != 1 || outcome.Transaction == nil {
		t.Error("request was not submitted after an advisory simulation failure")
	}
}

func TestRun_RequireSimulationSuccess(t *testing.T) {
	cfg := testConfig(t, "throw new Error('x')")
	cfg.Functions.RequireSimulationSuccess = true

	sim := &fakeSimulator{result: &functions.SimulationResult{ErrorString: "x"}}
	dialer := &dialRecorder{backend: &fakeBackend{}}

	_, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())

	var simErr *functions.SimulationError
	if !errors.As(err, &simErr) {
		t.Fatalf("Run() error = %v, want *functions.SimulationError", err)
	}
	if dialer.calls != 0 {
		t.Errorf("RPC dialed %d times, want 0", dialer.calls)
	}
}

func TestRun_SimulatorUnavailableIsAdvisory(t *testing.T) {
	cfg := testConfig(t, "return Functions.encodeUint256(1)")
	sim := &fakeSimulator{err: errors.New("docker: command not found")}
	dialer := &dialRecorder{backend: &fakeBackend{}}

	outcome, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.SimulationErr == nil {
		t.Error("SimulationErr not recorded")
	}
	if outcome.Transaction == nil {
		t.Error("request was not submitted")
	}
}

func TestRun_SubmissionErrorsPropagate(t *testing.T) {
	cfg := testConfig(t, "return Functions.encodeUint256(1)")
	sim := &fakeSimulator{result: uint256Result(1)}
	dialer := &dialRecorder{backend: &fakeBackend{chainIDErr: errors.New("connection refused")}}

	_, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())
	if !chain.IsKind(err, chain.KindNetwork) {
		t.Errorf("Run() error = %v, want network SubmissionError", err)
	}
}

func TestRun_WithLocalSimulator(t *testing.T) {
	cfg := testConfig(t, `
const n = args.length + 6;
return Functions.encodeUint256(n);
`)
	cfg.Functions.Args = []string{"x"}
	dialer := &dialRecorder{backend: &fakeBackend{}}

	outcome, err := NewRequestUpdater(cfg, functions.NewLocalSimulator(2*time.Second), dialer.dial).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decoded.(*big.Int).Int64() != 7 {
		t.Errorf("Decoded = %v, want 7", outcome.Decoded)
	}
}

func TestRun_MissingSourceFile(t *testing.T) {
	cfg := testConfig(t, "x")
	cfg.Functions.SourcePath = filepath.Join(t.TempDir(), "missing.js")
	sim := &fakeSimulator{}

	if _, err := NewRequestUpdater(cfg, sim, nil).Run(context.Background()); err == nil {
		t.Error("Run() expected error for missing source")
	}
	if sim.calls != 0 {
		t.Error("simulator called without source")
	}
}

func TestRun_RequestProblemsFailBeforeSimulation(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		mutate     func(c *config.Config)
		wantConfig bool
	}{
		{"bad bytes arg", "return Functions.encodeUint256(1)", func(c *config.Config) { c.Functions.BytesArgs = []string{"zz"} }, true},
		{"bad secrets ref", "return Functions.encodeUint256(1)", func(c *config.Config) { c.Functions.EncryptedSecretsRef = "0xq" }, true},
		{"empty source", "", func(c *config.Config) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.source)
			tt.mutate(cfg)

			sim := &fakeSimulator{result: uint256Result(1)}
			dialer := &dialRecorder{backend: &fakeBackend{}}

			_, err := NewRequestUpdater(cfg, sim, dialer.dial).Run(context.Background())
			if err == nil {
				t.Fatal("Run() expected error")
			}
			var cerr *config.ConfigError
			if tt.wantConfig && !errors.As(err, &cerr) {
				t.Errorf("Run() error = %v, want *config.ConfigError", err)
			}
			if !tt.wantConfig && !errors.Is(err, functions.ErrEmptySource) {
				t.Errorf("Run() error = %v, want %v", err, functions.ErrEmptySource)
			}
			if sim.calls != 0 || dialer.calls != 0 {
				t.Errorf("simulator calls = %d, dials = %d, want 0 and 0", sim.calls, dialer.calls)
			}
		})
	}
}
