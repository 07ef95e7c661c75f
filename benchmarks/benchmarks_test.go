package benchmarks

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/fuzz-gym/explorer"
	"github.com/zeu5/fuzz-gym/types"
)

const helperEnv = "FUZZGYM_CLI_HELPER"

// TestHelperProcess is a two decision target ending with a search tree.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	in := bufio.NewReader(os.Stdin)
	decide := func() string {
		line, _ := in.ReadString('\n')
		return strings.TrimSpace(line)
	}
	fmt.Println("STATE 2 root")
	fmt.Println("ACTION " + decide())
	fmt.Println("COVERAGE 0.5")
	fmt.Println("STATE 2 left")
	fmt.Println("ACTION " + decide())
	fmt.Println("DONE ((,1,),2,)")
	os.Exit(0)
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	doc := fmt.Sprintf(`
target: command
binary: %q
args: ["-test.run=^TestHelperProcess$", "--"]
env: ["%s=1"]
channel: stdin
action_mode: discrete
step_timeout: 10s
start_timeout: 10s
guide_dir: %q
ledger:
  backend: file
  path: %q
`, os.Args[0], helperEnv, filepath.Join(dir, "guide"), filepath.Join(dir, "states.json"))
	path := filepath.Join(dir, "gym.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := GetRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(in))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunAndLedger(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	save := filepath.Join(dir, "results")

	_, err := execute(t, "", "run", "-c", cfg, "-e", "3", "--horizon", "5", "-s", save, "--seed", "3", "--traces")
	require.NoError(t, err)

	records, err := types.ReadRecords(filepath.Join(save, "records", "random_0.jsonl"))
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Empty(t, r.Err)
		assert.Equal(t, 2, r.Steps)
	}
	assert.FileExists(t, filepath.Join(save, "traces", "random_0.jsonl"))
	assert.FileExists(t, filepath.Join(save, "graphs", "random_0.json"))
	assert.FileExists(t, filepath.Join(save, "plots", "0_states.png"))

	out, err := execute(t, "", "ledger", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, "1\troot\n2\tleft\n", out)
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	_, err := execute(t, "", "run", "-c", cfg, "-e", "1", "-s", filepath.Join(dir, "results"), "-p", "greedy")
	assert.ErrorContains(t, err, "unknown policy")
}

func TestExploreInspect(t *testing.T) {
	a := explorer.NewArchive()
	a.Visit(types.Observation{StateID: 4}, 1, []float64{1})
	path := filepath.Join(t.TempDir(), "archive.json")
	require.NoError(t, a.Record(path))

	out, err := execute(t, "1\n4\n", "explore", "--inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Cells: 1")
	assert.Contains(t, out, "Quitting!")
}

func TestBadConfig(t *testing.T) {
	_, err := execute(t, "", "ledger", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExperimentNames(t *testing.T) {
	assert.Equal(t, "random", experimentName("random", 0, 1))
	assert.Equal(t, "softmax-2", experimentName("softmax", 2, 3))

	seed = 0
	assert.Zero(t, policySeed(4))
	seed = 10
	assert.Equal(t, uint64(14), policySeed(4))
	seed = 0
}
