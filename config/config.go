package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Response modes of the upload endpoint
const (
	ResponseModeRedirect = "redirect"
	ResponseModeJSON     = "json"
)

// Simulator backends
const (
	SimulatorLocal  = "local"
	SimulatorDocker = "docker"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upload    UploadConfig    `yaml:"upload"`
	Functions FunctionsConfig `yaml:"functions"`
	Chain     ChainConfig     `yaml:"chain"`
	Docker    DockerConfig    `yaml:"docker"`
	LogLevel  string          `yaml:"logLevel"`

	// env values that were set but could not be parsed, keyed by variable
	parseErrs map[string]string
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// UploadConfig holds the upload endpoint configuration
type UploadConfig struct {
	Dir          string `yaml:"dir"`
	ResponseMode string `yaml:"responseMode"`
	RedirectURL  string `yaml:"redirectURL"`
	FieldName    string `yaml:"-"`
}

// FunctionsConfig describes the off-chain computation request
type FunctionsConfig struct {
	SourcePath               string            `yaml:"sourcePath"`
	Args                     []string          `yaml:"args"`
	BytesArgs                []string          `yaml:"bytesArgs"`
	Secrets                  map[string]string `yaml:"secrets"`
	EncryptedSecretsRef      string            `yaml:"encryptedSecretsRef"`
	ReturnType               string            `yaml:"returnType"`
	Simulator                string            `yaml:"simulator"`
	SimulationTimeout        time.Duration     `yaml:"simulationTimeout"`
	RequireSimulationSuccess bool              `yaml:"requireSimulationSuccess"`
}

// ChainConfig holds the network, signer and consumer contract settings
type ChainConfig struct {
	PrivateKey      string `yaml:"-"`
	RPCURL          string `yaml:"-"`
	ConsumerAddress string `yaml:"consumerAddress"`
	SubscriptionID  uint64 `yaml:"subscriptionId"`
	GasLimit        uint64 `yaml:"gasLimit"`
	DonID           string `yaml:"donId"`
	ExplorerURL     string `yaml:"explorerURL"`
	WaitForReceipt  bool   `yaml:"waitForReceipt"`
}

// DockerConfig holds Docker-specific configuration
type DockerConfig struct {
	Image       string        `yaml:"image"`
	TemplateDir string        `yaml:"templateDir"`
	RunTimeout  time.Duration `yaml:"runTimeout"`
}

// Polygon Mumbai preset
const (
	DefaultDonID       = "fun-polygon-mumbai-1"
	DefaultExplorerURL = "https://mumbai.polygonscan.com"
)

// LoadConfig loads configuration from a .env file, environment variables
// and, when configFile is non-empty, a YAML file layered on top.
func LoadConfig(configFile string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	parseErrs := map[string]string{}
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "3000"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second, parseErrs),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second, parseErrs),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second, parseErrs),
		},
		Upload: UploadConfig{
			Dir:          getEnv("UPLOAD_DIR", "Frontend/uploads"),
			ResponseMode: getEnv("UPLOAD_RESPONSE_MODE", ResponseModeRedirect),
			RedirectURL:  getEnv("UPLOAD_REDIRECT_URL", "http://127.0.0.1:5500/Frontend/Web3NST.html"),
			FieldName:    "image",
		},
		Functions: FunctionsConfig{
			SourcePath:               getEnv("FUNCTIONS_SOURCE_PATH", "source.js"),
			Args:                     getListEnv("FUNCTIONS_ARGS"),
			BytesArgs:                getListEnv("FUNCTIONS_BYTES_ARGS"),
			Secrets:                  map[string]string{},
			EncryptedSecretsRef:      getEnv("FUNCTIONS_ENCRYPTED_SECRETS_REF", ""),
			ReturnType:               getEnv("FUNCTIONS_RETURN_TYPE", "uint256"),
			Simulator:                getEnv("FUNCTIONS_SIMULATOR", SimulatorLocal),
			SimulationTimeout:        getDurationEnv("FUNCTIONS_SIMULATION_TIMEOUT", 10*time.Second, parseErrs),
			RequireSimulationSuccess: getBoolEnv("FUNCTIONS_REQUIRE_SIMULATION_SUCCESS", false, parseErrs),
		},
		Chain: ChainConfig{
			PrivateKey:      getEnv("PRIVATE_KEY", ""),
			RPCURL:          getEnv("RPC_URL", getEnv("POLYGON_MUMBAI_RPC_URL", "")),
			ConsumerAddress: getEnv("CONSUMER_ADDRESS", ""),
			SubscriptionID:  getUint64Env("SUBSCRIPTION_ID", 1, parseErrs),
			GasLimit:        getUint64Env("GAS_LIMIT", 300000, parseErrs),
			DonID:           getEnv("DON_ID", DefaultDonID),
			ExplorerURL:     getEnv("EXPLORER_URL", DefaultExplorerURL),
			WaitForReceipt:  getBoolEnv("WAIT_FOR_RECEIPT", false, parseErrs),
		},
		Docker: DockerConfig{
			Image:       getEnv("DOCKER_IMAGE", "node:20-alpine"),
			TemplateDir: getEnv("DOCKER_TEMPLATE_DIR", "templates"),
			RunTimeout:  getDurationEnv("DOCKER_RUN_TIMEOUT", 30*time.Second, parseErrs),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		parseErrs: parseErrs,
	}

	if configFile != "" {
		if err := cfg.mergeFile(configFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// mergeFile overlays values from a YAML file. Secrets never come from it.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if c.Functions.Secrets == nil {
		c.Functions.Secrets = map[string]string{}
	}
	return nil
}

// ValidateServer checks the settings the upload server depends on
func (c *Config) ValidateServer() error {
	cerr := &ConfigError{}
	c.reportParseErrors(cerr, func(key string) bool { return strings.HasPrefix(key, "SERVER_") })

	if c.Upload.Dir == "" {
		cerr.missing("UPLOAD_DIR")
	}
	switch c.Upload.ResponseMode {
	case ResponseModeRedirect:
		if c.Upload.RedirectURL == "" {
			cerr.missing("UPLOAD_REDIRECT_URL")
		}
	case ResponseModeJSON:
	default:
		cerr.invalid("UPLOAD_RESPONSE_MODE", fmt.Sprintf("unknown mode %q", c.Upload.ResponseMode))
	}

	return cerr.orNil()
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// The typed getters fall back to defaultValue only when key is unset or
// empty; a value that does not parse is recorded in invalid.

func getUint64Env(key string, defaultValue uint64, invalid map[string]string) uint64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	uintValue, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		invalid[key] = fmt.Sprintf("%q is not an unsigned integer", value)
		return defaultValue
	}
	return uintValue
}

func getBoolEnv(key string, defaultValue bool, invalid map[string]string) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		invalid[key] = fmt.Sprintf("%q is not a boolean", value)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration, invalid map[string]string) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	durationValue, err := time.ParseDuration(value)
	if err != nil {
		invalid[key] = fmt.Sprintf("%q is not a duration", value)
		return defaultValue
	}
	return durationValue
}

// getListEnv splits a comma separated value, empty when unset
func getListEnv(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		list = append(list, strings.TrimSpace(p))
	}
	return list
}
