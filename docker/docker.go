package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"web3nst/config"
	"web3nst/functions"
)

const resultMarker = "__SIMULATION_RESULT__"

// Template represents a runner template configuration
type Template struct {
	Image  string `yaml:"image"`
	Runner string `yaml:"runner"`
}

// Manager dry-runs request source inside a throwaway container
type Manager struct {
	config  *config.DockerConfig
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewDockerManager creates a new Manager with the given configuration
func NewDockerManager(config *config.DockerConfig) *Manager {
	return &Manager{
		config:  config,
		command: exec.CommandContext,
	}
}

type runnerInput struct {
	Args      []string          `json:"args"`
	BytesArgs []string          `json:"bytesArgs"`
	Secrets   map[string]string `json:"secrets"`
}

// Simulate implements functions.Simulator. The container has no access to
// the signing key, so nothing it does can reach the chain as a transaction.
func (dm *Manager) Simulate(ctx context.Context, req functions.SimulationRequest) (*functions.SimulationResult, error) {
	template, err := dm.LoadTemplate(ctx, "javascript")
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	workDir, err := os.MkdirTemp("", "functions-sim-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := writeWorkDir(workDir, template, req); err != nil {
		log.Error().
			Str("dir", workDir).
			Err(err).
			Msg("Failed to prepare simulation work directory")
		return nil, err
	}

	image := dm.config.Image
	if image == "" {
		image = template.Image
	}

	log.Info().
		Str("image", image).
		Str("dir", workDir).
		Msg("Running simulation container")

	// Set a timeout for the run command
	runCtx, cancel := context.WithTimeout(ctx, dm.config.RunTimeout)
	defer cancel()

	runCmd := dm.command(runCtx, "docker", dm.runArgs(image, workDir)...)
	output, err := runCmd.CombinedOutput()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn().
			Str("image", image).
			Dur("timeout", dm.config.RunTimeout).
			Msg("Simulation container timed out")
		return &functions.SimulationResult{
			ErrorString: fmt.Sprintf("script execution timed out after %s", dm.config.RunTimeout),
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result, parseErr := ParseRunnerOutput(string(output))
	if parseErr != nil {
		if err != nil {
			log.Error().
				Str("image", image).
				Str("output", string(output)).
				Err(err).
				Msg("Simulation container failed")
			return nil, fmt.Errorf("container execution failed: %s", output)
		}
		return nil, parseErr
	}

	log.Info().
		Str("image", image).
		Bool("failed", result.Failed()).
		Msg("Simulation container finished")

	return result, nil
}

func writeWorkDir(dir string, template *Template, req functions.SimulationRequest) error {
	input := runnerInput{
		Args:      req.Args,
		BytesArgs: req.BytesArgs,
		Secrets:   req.Secrets,
	}
	if input.Args == nil {
		input.Args = []string{}
	}
	if input.BytesArgs == nil {
		input.BytesArgs = []string{}
	}
	if input.Secrets == nil {
		input.Secrets = map[string]string{}
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode simulation input: %w", err)
	}

	files := map[string][]byte{
		"runner.js":  []byte(template.Runner),
		"source.js":  []byte(req.Source),
		"input.json": inputJSON,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// runArgs builds the docker run command line for a work directory
func (dm *Manager) runArgs(image, workDir string) []string {
	return []string{
		"run",
		"--rm",
		"--network=bridge",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--memory=128m",
		"--cpus=0.5",
		"-v", workDir + ":/work:ro",
		image,
		"node", "/work/runner.js",
	}
}

// ParseRunnerOutput extracts the last result line the runner printed
func ParseRunnerOutput(output string) (*functions.SimulationResult, error) {
	var line string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if text := scanner.Text(); strings.HasPrefix(text, resultMarker) {
			line = strings.TrimPrefix(text, resultMarker)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read container output: %w", err)
	}
	if line == "" {
		return nil, fmt.Errorf("simulation result not found in container output")
	}

	var result functions.SimulationResult
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		return nil, fmt.Errorf("failed to decode simulation result: %w", err)
	}
	return &result, nil
}

// LoadTemplate loads a runner template for the specified language
func (dm *Manager) LoadTemplate(ctx context.Context, language string) (*Template, error) {
	templateFile := filepath.Join(dm.config.TemplateDir, language+".yaml")

	log.Debug().
		Str("template_file", templateFile).
		Msg("Loading template file")

	data, err := os.ReadFile(templateFile)
	if err != nil {
		log.Error().
			Str("template_file", templateFile).
			Err(err).
			Msg("Failed to read template file")
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var template Template
	if err := yaml.Unmarshal(data, &template); err != nil {
		log.Error().
			Str("template_file", templateFile).
			Err(err).
			Msg("Failed to unmarshal template")
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	if template.Runner == "" {
		return nil, fmt.Errorf("template %s has no runner", templateFile)
	}

	return &template, nil
}
