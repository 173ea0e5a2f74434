// Package functions builds, encodes and dry-runs off-chain computation
// requests for a Functions consumer contract.
package functions

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fxamacker/cbor/v2"
)

// Location says where source code or secrets are fetched from
type Location int

const (
	LocationInline Location = iota
	LocationRemote
	LocationDONHosted
)

func (l Location) String() string {
	switch l {
	case LocationInline:
		return "Inline"
	case LocationRemote:
		return "Remote"
	case LocationDONHosted:
		return "DONHosted"
	}
	return fmt.Sprintf("Location(%d)", int(l))
}

// CodeLanguage of the request source
type CodeLanguage int

const (
	CodeLanguageJavaScript CodeLanguage = iota
)

func (c CodeLanguage) String() string {
	if c == CodeLanguageJavaScript {
		return "JavaScript"
	}
	return fmt.Sprintf("CodeLanguage(%d)", int(c))
}

var (
	ErrEmptySource             = errors.New("source code is empty")
	ErrUnsupportedCodeLocation = errors.New("only inline source code is supported")
	ErrUnsupportedLanguage     = errors.New("only JavaScript source code is supported")
	ErrUnsupportedSecrets      = errors.New("secrets must be remote or DON hosted")
)

// Request is one off-chain computation request
type Request struct {
	CodeLocation    Location
	CodeLanguage    CodeLanguage
	SecretsLocation Location
	Source          string
	Args            []string
	// BytesArgs are 0x-prefixed hex strings
	BytesArgs []string
	// EncryptedSecretsReference is a 0x-prefixed hex reference, only sent
	// together with SecretsLocation when set.
	EncryptedSecretsReference string
}

// NewRequest returns an inline JavaScript request with DON hosted secrets
func NewRequest(source string, args, bytesArgs []string) *Request {
	return &Request{
		CodeLocation:    LocationInline,
		CodeLanguage:    CodeLanguageJavaScript,
		SecretsLocation: LocationDONHosted,
		Source:          source,
		Args:            args,
		BytesArgs:       bytesArgs,
	}
}

// wireRequest is the CBOR map sent on-chain
type wireRequest struct {
	CodeLocation    Location     `cbor:"codeLocation"`
	CodeLanguage    CodeLanguage `cbor:"codeLanguage"`
	Source          string       `cbor:"source"`
	SecretsLocation *Location    `cbor:"secretsLocation,omitempty"`
	Secrets         []byte       `cbor:"secrets,omitempty"`
	Args            []string     `cbor:"args"`
	BytesArgs       [][]byte     `cbor:"bytesArgs"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.NilContainers = cbor.NilContainerAsEmpty
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("functions: invalid CBOR options: %v", err))
	}
	return mode
}()

// Validate checks the markers and argument encodings
func (r *Request) Validate() error {
	if r.Source == "" {
		return ErrEmptySource
	}
	if r.CodeLocation != LocationInline {
		return fmt.Errorf("%w: got %s", ErrUnsupportedCodeLocation, r.CodeLocation)
	}
	if r.CodeLanguage != CodeLanguageJavaScript {
		return fmt.Errorf("%w: got %s", ErrUnsupportedLanguage, r.CodeLanguage)
	}
	if r.EncryptedSecretsReference != "" {
		if r.SecretsLocation == LocationInline {
			return fmt.Errorf("%w: got %s", ErrUnsupportedSecrets, r.SecretsLocation)
		}
		if _, err := hexutil.Decode(r.EncryptedSecretsReference); err != nil {
			return fmt.Errorf("encrypted secrets reference: %w", err)
		}
	}
	for i, arg := range r.BytesArgs {
		if _, err := hexutil.Decode(arg); err != nil {
			return fmt.Errorf("bytesArgs[%d]: %w", i, err)
		}
	}
	return nil
}

// Encode deterministically encodes the request as canonical CBOR. The
// same logical request always yields the same bytes.
func (r *Request) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	wire := wireRequest{
		CodeLocation: r.CodeLocation,
		CodeLanguage: r.CodeLanguage,
		Source:       r.Source,
		Args:         r.Args,
		BytesArgs:    make([][]byte, 0, len(r.BytesArgs)),
	}

	for i, arg := range r.BytesArgs {
		b, err := hexutil.Decode(arg)
		if err != nil {
			return nil, fmt.Errorf("bytesArgs[%d]: %w", i, err)
		}
		wire.BytesArgs = append(wire.BytesArgs, b)
	}

	if r.EncryptedSecretsReference != "" {
		ref, err := hexutil.Decode(r.EncryptedSecretsReference)
		if err != nil {
			return nil, fmt.Errorf("encrypted secrets reference: %w", err)
		}
		loc := r.SecretsLocation
		wire.SecretsLocation = &loc
		wire.Secrets = ref
	}

	encoded, err := encMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return encoded, nil
}

// EncodeHex returns Encode as a 0x-prefixed hex string
func (r *Request) EncodeHex() (string, error) {
	b, err := r.Encode()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b), nil
}
