package functions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/rs/zerolog/log"
)

// script wrapper: the request source is the body of an async function and
// a Uint8Array result is converted to an ArrayBuffer for export
const scriptPrelude = "(async () => {\nconst __response = await (async () => {\n"
const scriptEpilogue = `
})();
if (__response instanceof Uint8Array) {
  return __response.buffer.slice(__response.byteOffset, __response.byteOffset + __response.byteLength);
}
return __response;
})()`

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxInt256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minInt256  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
)

// LocalSimulator dry-runs JavaScript source in an embedded interpreter.
// The runtime exposes args, bytesArgs, secrets, console.log and a
// Functions helper with encodeUint256, encodeInt256 and encodeString.
type LocalSimulator struct {
	timeout time.Duration
}

// NewLocalSimulator creates a LocalSimulator; a non-positive timeout means 10s
func NewLocalSimulator(timeout time.Duration) *LocalSimulator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LocalSimulator{timeout: timeout}
}

// Simulate runs req.Source once. Errors are returned only when ctx is
// cancelled; everything the script does wrong lands in ErrorString.
func (s *LocalSimulator) Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vm := goja.New()
	var output strings.Builder

	if err := s.installGlobals(vm, req, &output); err != nil {
		return nil, fmt.Errorf("failed to prepare simulator runtime: %w", err)
	}

	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt("script execution timed out")
	})
	defer stop()

	start := time.Now()
	value, runErr := vm.RunString(scriptPrelude + req.Source + scriptEpilogue)

	log.Debug().
		Dur("duration", time.Since(start)).
		Int("source_length", len(req.Source)).
		Msg("Local simulation finished")

	result := &SimulationResult{}

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var interrupted *goja.InterruptedError
		switch {
		case errors.As(runErr, &interrupted):
			result.ErrorString = fmt.Sprintf("script execution timed out after %s", s.timeout)
		default:
			result.ErrorString = runErr.Error()
		}
		result.CapturedTerminalOutput = output.String()
		return result, nil
	}

	result.CapturedTerminalOutput = output.String()

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		result.ErrorString = "script did not produce a result"
		return result, nil
	}

	switch promise.State() {
	case goja.PromiseStateRejected:
		result.ErrorString = rejectionMessage(promise.Result())
	case goja.PromiseStatePending:
		result.ErrorString = "script did not settle; pending asynchronous work is not supported"
	case goja.PromiseStateFulfilled:
		response, errString := responseBytes(promise.Result())
		if errString != "" {
			result.ErrorString = errString
			break
		}
		result.ResponseBytesHexstring = hexutil.Encode(response)
	}

	return result, nil
}

func (s *LocalSimulator) installGlobals(vm *goja.Runtime, req SimulationRequest, output *strings.Builder) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		output.WriteString(strings.Join(parts, " "))
		output.WriteString("\n")
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return err
		}
	}

	args := make([]interface{}, 0, len(req.Args))
	for _, a := range req.Args {
		args = append(args, a)
	}
	bytesArgs := make([]interface{}, 0, len(req.BytesArgs))
	for _, a := range req.BytesArgs {
		bytesArgs = append(bytesArgs, a)
	}

	secrets := vm.NewObject()
	for k, v := range req.Secrets {
		if err := secrets.Set(k, v); err != nil {
			return err
		}
	}

	helpers := vm.NewObject()
	if err := helpers.Set("encodeUint256", func(call goja.FunctionCall) goja.Value {
		n := toBigInt(vm, call.Argument(0))
		if n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
			panic(vm.NewTypeError("encodeUint256 invalid input"))
		}
		return newUint8Array(vm, ethmath.U256Bytes(n))
	}); err != nil {
		return err
	}
	if err := helpers.Set("encodeInt256", func(call goja.FunctionCall) goja.Value {
		n := toBigInt(vm, call.Argument(0))
		if n.Cmp(minInt256) < 0 || n.Cmp(maxInt256) > 0 {
			panic(vm.NewTypeError("encodeInt256 invalid input"))
		}
		return newUint8Array(vm, ethmath.U256Bytes(n))
	}); err != nil {
		return err
	}
	if err := helpers.Set("encodeString", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if _, ok := arg.Export().(string); !ok {
			panic(vm.NewTypeError("encodeString invalid input"))
		}
		return newUint8Array(vm, []byte(arg.String()))
	}); err != nil {
		return err
	}

	globals := map[string]interface{}{
		"console":   console,
		"args":      vm.NewArray(args...),
		"bytesArgs": vm.NewArray(bytesArgs...),
		"secrets":   secrets,
		"Functions": helpers,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// toBigInt converts a JS number, BigInt or numeric string, throwing a
// TypeError inside the script otherwise
func toBigInt(vm *goja.Runtime, v goja.Value) *big.Int {
	switch x := v.Export().(type) {
	case *big.Int:
		return new(big.Int).Set(x)
	case int64:
		return big.NewInt(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			panic(vm.NewTypeError("expected an integer, got %v", x))
		}
		n, _ := new(big.Float).SetFloat64(x).Int(nil)
		return n
	case string:
		n, ok := new(big.Int).SetString(x, 0)
		if !ok {
			panic(vm.NewTypeError("expected an integer, got %q", x))
		}
		return n
	}
	panic(vm.NewTypeError("expected an integer, got %s", v.String()))
}

func newUint8Array(vm *goja.Runtime, b []byte) goja.Value {
	obj, err := vm.New(vm.Get("Uint8Array"), vm.ToValue(vm.NewArrayBuffer(b)))
	if err != nil {
		panic(err)
	}
	return obj
}

func responseBytes(v goja.Value) ([]byte, string) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, "returned value not an ArrayBuffer or Uint8Array"
	}

	buf, ok := v.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, "returned value not an ArrayBuffer or Uint8Array"
	}

	b := buf.Bytes()
	if len(b) > MaxResponseBytes {
		return nil, fmt.Sprintf("response >%d bytes", MaxResponseBytes)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, ""
}

func rejectionMessage(reason goja.Value) string {
	if obj, ok := reason.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	if reason == nil {
		return "script rejected without a reason"
	}
	return reason.String()
}
