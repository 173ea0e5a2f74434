package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"web3nst/functions"
)

// ConfigError reports required settings that are absent or unusable.
// It is returned before any simulator or network work is attempted.
type ConfigError struct {
	Missing []string
	Invalid map[string]string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s - check your environment variables", strings.Join(e.Missing, ", ")))
	}

	keys := make([]string, 0, len(e.Invalid))
	for k := range e.Invalid {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("invalid %s: %s", k, e.Invalid[k]))
	}

	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *ConfigError) missing(key string) {
	e.Missing = append(e.Missing, key)
}

func (e *ConfigError) invalid(key, reason string) {
	if e.Invalid == nil {
		e.Invalid = make(map[string]string)
	}
	e.Invalid[key] = reason
}

// reportParseErrors copies env parse failures whose key matches into cerr
func (c *Config) reportParseErrors(cerr *ConfigError, match func(key string) bool) {
	for key, reason := range c.parseErrs {
		if match(key) {
			cerr.invalid(key, reason)
		}
	}
}

func (e *ConfigError) orNil() error {
	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

// ValidateRequestUpdate checks everything the request-update run needs.
// Signing key and RPC endpoint are mandatory.
func (c *Config) ValidateRequestUpdate() error {
	cerr := &ConfigError{}
	c.reportParseErrors(cerr, func(key string) bool { return !strings.HasPrefix(key, "SERVER_") })
	ch := c.Chain

	if ch.PrivateKey == "" {
		cerr.missing("PRIVATE_KEY")
	} else if _, err := crypto.HexToECDSA(strings.TrimPrefix(ch.PrivateKey, "0x")); err != nil {
		// never echo the key itself
		cerr.invalid("PRIVATE_KEY", "not a hex encoded secp256k1 key")
	}

	if ch.RPCURL == "" {
		cerr.missing("RPC_URL")
	}

	if ch.ConsumerAddress == "" {
		cerr.missing("CONSUMER_ADDRESS")
	} else if !common.IsHexAddress(ch.ConsumerAddress) {
		cerr.invalid("CONSUMER_ADDRESS", fmt.Sprintf("%q is not a hex address", ch.ConsumerAddress))
	}

	if ch.GasLimit == 0 || ch.GasLimit > math.MaxUint32 {
		cerr.invalid("GAS_LIMIT", fmt.Sprintf("%d is outside 1..%d", ch.GasLimit, uint64(math.MaxUint32)))
	}

	if ch.DonID == "" {
		cerr.missing("DON_ID")
	} else if len(ch.DonID) > 31 {
		cerr.invalid("DON_ID", "must be at most 31 bytes to fit bytes32")
	}

	if c.Functions.SourcePath == "" {
		cerr.missing("FUNCTIONS_SOURCE_PATH")
	}

	for i, arg := range c.Functions.BytesArgs {
		if _, err := hexutil.Decode(arg); err != nil {
			cerr.invalid("FUNCTIONS_BYTES_ARGS", fmt.Sprintf("entry %d: %v", i, err))
			break
		}
	}
	if ref := c.Functions.EncryptedSecretsRef; ref != "" {
		if _, err := hexutil.Decode(ref); err != nil {
			cerr.invalid("FUNCTIONS_ENCRYPTED_SECRETS_REF", err.Error())
		}
	}

	if _, err := functions.ParseReturnType(c.Functions.ReturnType); err != nil {
		cerr.invalid("FUNCTIONS_RETURN_TYPE", err.Error())
	}

	switch c.Functions.Simulator {
	case SimulatorLocal, SimulatorDocker:
	default:
		cerr.invalid("FUNCTIONS_SIMULATOR", fmt.Sprintf("unknown simulator %q", c.Functions.Simulator))
	}

	return cerr.orNil()
}
