package docker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"web3nst/config"
	"web3nst/functions"
)

func TestLoadTemplate_Shipped(t *testing.T) {
	dm := NewDockerManager(&config.DockerConfig{TemplateDir: filepath.Join("..", "templates")})

	tmpl, err := dm.LoadTemplate(context.Background(), "javascript")
	if err != nil {
		t.Fatalf("LoadTemplate() error = %v", err)
	}
	if tmpl.Image == "" {
		t.Error("template image is empty")
	}
	if !strings.Contains(tmpl.Runner, resultMarker) {
		t.Error("runner does not print the result marker")
	}
}

func TestLoadTemplate_Errors(t *testing.T) {
	dir := t.TempDir()
	dm := NewDockerManager(&config.DockerConfig{TemplateDir: dir})

	if _, err := dm.LoadTemplate(context.Background(), "javascript"); err == nil {
		t.Error("LoadTemplate() expected error for missing file")
	}

	os.WriteFile(filepath.Join(dir, "javascript.yaml"), []byte("image: node\n"), 0644)
	if _, err := dm.LoadTemplate(context.Background(), "javascript"); err == nil {
		t.Error("LoadTemplate() expected error for template without runner")
	}

	os.WriteFile(filepath.Join(dir, "javascript.yaml"), []byte("runner: [unclosed\n"), 0644)
	if _, err := dm.LoadTemplate(context.Background(), "javascript"); err == nil {
		t.Error("LoadTemplate() expected error for invalid yaml")
	}
}

func TestParseRunnerOutput(t *testing.T) {
	output := "npm notice something\n" +
		resultMarker + `{"responseBytesHexstring":"0x2a","capturedTerminalOutput":"hi"}` + "\n"

	res, err := ParseRunnerOutput(output)
	if err != nil {
		t.Fatalf("ParseRunnerOutput() error = %v", err)
	}
	if res.ResponseBytesHexstring != "0x2a" || res.CapturedTerminalOutput != "hi" || res.Failed() {
		t.Errorf("ParseRunnerOutput() = %+v", res)
	}
}

func TestParseRunnerOutput_ScriptError(t *testing.T) {
	output := resultMarker + `{"responseBytesHexstring":"0x","errorString":"boom"}`

	res, err := ParseRunnerOutput(output)
	if err != nil {
		t.Fatalf("ParseRunnerOutput() error = %v", err)
	}
	if !res.Failed() || res.ErrorString != "boom" {
		t.Errorf("ParseRunnerOutput() = %+v", res)
	}
}

func TestParseRunnerOutput_Missing(t *testing.T) {
	if _, err := ParseRunnerOutput("Unable to find image 'node:20-alpine' locally\n"); err == nil {
		t.Error("ParseRunnerOutput() expected error without result line")
	}
	if _, err := ParseRunnerOutput(resultMarker + "{not json"); err == nil {
		t.Error("ParseRunnerOutput() expected error for malformed result")
	}
}

func TestRunArgs(t *testing.T) {
	dm := NewDockerManager(&config.DockerConfig{})
	args := dm.runArgs("node:20-alpine", "/tmp/work")

	joined := strings.Join(args, " ")
	for _, want := range []string{"run --rm", "--cap-drop=ALL", "-v /tmp/work:/work:ro", "node:20-alpine node /work/runner.js"} {
		if !strings.Contains(joined, want) {
			t.Errorf("runArgs() = %q, missing %q", joined, want)
		}
	}
}

func TestWriteWorkDir(t *testing.T) {
	dir := t.TempDir()
	err := writeWorkDir(dir, &Template{Runner: "console.log(1)"}, functionsRequest("return 1"))
	if err != nil {
		t.Fatalf("writeWorkDir() error = %v", err)
	}

	input, err := os.ReadFile(filepath.Join(dir, "input.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(input) != `{"args":[],"bytesArgs":[],"secrets":{}}` {
		t.Errorf("input.json = %s", input)
	}
	source, _ := os.ReadFile(filepath.Join(dir, "source.js"))
	if string(source) != "return 1" {
		t.Errorf("source.js = %s", source)
	}
}

func functionsRequest(source string) functions.SimulationRequest {
	return functions.SimulationRequest{Source: source}
}

// fakeDocker runs this test binary in place of the docker CLI; the helper
// process behaves according to mode.
func fakeDocker(mode string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FAKE_DOCKER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 || args[1] != "docker" || args[2] != "run" {
		fmt.Fprintf(os.Stderr, "unexpected command %q\n", args)
		os.Exit(2)
	}

	switch os.Getenv("FAKE_DOCKER_MODE") {
	case "ok":
		fmt.Println("Pulling node:20-alpine")
		fmt.Println(resultMarker + `{"responseBytesHexstring":"0x2a","capturedTerminalOutput":"hi\n"}`)
	case "script-error":
		fmt.Println(resultMarker + `{"responseBytesHexstring":"0x","errorString":"boom"}`)
	case "no-result":
		fmt.Println("runner started")
	case "daemon-down":
		fmt.Fprintln(os.Stderr, "Cannot connect to the Docker daemon")
		os.Exit(125)
	case "hang":
		time.Sleep(10 * time.Second)
	}
}

func newFakeManager(t *testing.T, mode string, timeout time.Duration) *Manager {
	t.Helper()
	dm := NewDockerManager(&config.DockerConfig{
		TemplateDir: filepath.Join("..", "templates"),
		RunTimeout:  timeout,
	})
	dm.command = fakeDocker(mode)
	return dm
}

func TestSimulate_Result(t *testing.T) {
	dm := newFakeManager(t, "ok", 5*time.Second)

	res, err := dm.Simulate(context.Background(), functionsRequest("return 1"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if res.Failed() || res.ResponseBytesHexstring != "0x2a" || res.CapturedTerminalOutput != "hi\n" {
		t.Errorf("Simulate() = %+v", res)
	}
}

func TestSimulate_ScriptError(t *testing.T) {
	dm := newFakeManager(t, "script-error", 5*time.Second)

	res, err := dm.Simulate(context.Background(), functionsRequest("throw 1"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if !res.Failed() || res.ErrorString != "boom" {
		t.Errorf("Simulate() = %+v", res)
	}
}

func TestSimulate_Failures(t *testing.T) {
	tests := []struct {
		mode    string
		wantErr string
	}{
		{"no-result", "simulation result not found"},
		{"daemon-down", "container execution failed"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			dm := newFakeManager(t, tt.mode, 5*time.Second)

			_, err := dm.Simulate(context.Background(), functionsRequest("return 1"))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Simulate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSimulate_Timeout(t *testing.T) {
	dm := newFakeManager(t, "hang", 100*time.Millisecond)

	res, err := dm.Simulate(context.Background(), functionsRequest("while (true) {}"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if !res.Failed() || !strings.Contains(res.ErrorString, "timed out") {
		t.Errorf("Simulate() = %+v, want timeout error string", res)
	}
}

func TestSimulate_Cancelled(t *testing.T) {
	dm := newFakeManager(t, "hang", 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := dm.Simulate(ctx, functionsRequest("return 1")); err == nil {
		t.Error("Simulate() expected error for cancelled context")
	}
}
