package permission

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmdArgs(cmd string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"command": cmd})
	return data
}

func TestParseModeAndCycle(t *testing.T) {
	m, err := ParseMode("accept-edits")
	require.NoError(t, err)
	assert.Equal(t, ModeAcceptEdits, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, m)

	_, err = ParseMode("yolo")
	assert.Error(t, err)

	assert.Equal(t, ModeAcceptEdits, ModeDefault.Next())
	assert.Equal(t, ModeDefault, ModeBypass.Next())
}

func TestLiveSnapshotsAreIndependent(t *testing.T) {
	live := NewLive(Settings{Model: "sonnet", ContextWindow: 200000})
	before := live.Snapshot()
	assert.Equal(t, ModeDefault, before.Mode)

	live.SetMode(ModeBypass)
	live.SetModel("opus", 100000)

	assert.Equal(t, ModeDefault, before.Mode, "earlier snapshots are not rewritten")
	now := live.Snapshot()
	assert.Equal(t, ModeBypass, now.Mode)
	assert.Equal(t, "opus", now.Model)
	assert.Equal(t, 100000, now.ContextWindow)
}

func TestLiveConcurrentUpdates(t *testing.T) {
	live := NewLive(Settings{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			live.Update(func(s Settings) Settings {
				s.ContextWindow++
				return s
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, live.Snapshot().ContextWindow)
}

func TestIsSafeCommand(t *testing.T) {
	tests := []struct {
		cmd  string
		safe bool
	}{
		{"ls", true},
		{"ls -la src", true},
		{"/bin/ls", true},
		{"cat a.go | grep func | wc -l", true},
		{"git status && git diff", true},
		{"grep 'a;b' file.txt", true},
		{`echo "x > y"`, true},
		{"rm -rf build", false},
		{"ls; rm -rf /", false},
		{"ls > out.txt", false},
		{"echo $(whoami)", false},
		{"echo `whoami`", false},
		{`echo "$(whoami)"`, false},
		{"sed -i s/a/b/ f", false},
		{"sed --in-place=.bak s/a/b/ f", false},
		{"sed -n 1,5p f", true},
		{"sed -n -e '10,$p' f", true},
		{"sed 's/a/b/w /tmp/out' f", false},
		{"sed '1e touch x' f", false},
		{"sed -f script.sed f", false},
		{"sed -n", false},
		{"find . -name '*.go' -delete", false},
		{"find . -name '*.go'", true},
		{"find . -fprint0 /tmp/out", false},
		{"find . -execdir rm {} +", false},
		{"sort a.txt", true},
		{"sort -rn a.txt", true},
		{"sort --output=/tmp/out a.txt", false},
		{"sort --out=/tmp/out a.txt", false},
		{"sort -o/tmp/out a.txt", false},
		{"sort -ro /tmp/out a.txt", false},
		{"sort --compress-program=sh a.txt", false},
		{"rg foo", true},
		{"rg --pre=/tmp/run.sh foo", false},
		{"rg --pre-glob '*.pdf' foo", false},
		{"git diff --output=/tmp/out", false},
		{"git log --ext-diff", false},
		{"git log --oneline -5", true},
		{"tree -L 2", true},
		{"tree -o /tmp/out", false},
		{"file -C -m magic", false},
		{"uniq a.txt", true},
		{"uniq a.txt b.txt", false},
		{"date -s 2000-01-01", false},
		{"git push", false},
		{"git", false},
		{"sleep 10 &", false},
		{"echo 'unterminated", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.safe, IsSafeCommand(tt.cmd), "command %q", tt.cmd)
	}
}

func TestCommandPrefix(t *testing.T) {
	tests := map[string]string{
		"git commit -m 'msg'":  "git commit",
		"npm install lodash":   "npm install",
		"rm -rf build":         "rm",
		"go test ./...":        "go test",
		"python script.py":     "python",
		"make":                 "make",
		"docker compose up -d": "docker compose",
		"cargo build && ls":    "cargo build",
		"":                     "",
	}
	for cmd, want := range tests {
		assert.Equal(t, want, CommandPrefix(cmd), "command %q", cmd)
	}
}

func TestCommandFromArgs(t *testing.T) {
	cmd, ok := CommandFromArgs(cmdArgs("ls"))
	assert.True(t, ok)
	assert.Equal(t, "ls", cmd)

	_, ok = CommandFromArgs(json.RawMessage(`{"path":"x"}`))
	assert.False(t, ok)
	_, ok = CommandFromArgs(json.RawMessage(`not json`))
	assert.False(t, ok)
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, Canonicalize(json.RawMessage(`{"b":1, "a":2}`)), Canonicalize(json.RawMessage(`{"a":2,"b":1}`)))
	assert.Equal(t, "{}", Canonicalize(nil))
}

func TestMemoryStoreRules(t *testing.T) {
	store := NewMemoryStore()

	allowed, err := store.IsAllowed("shell", cmdArgs("ls -la"))
	require.NoError(t, err)
	assert.True(t, allowed, "safe commands pass")

	allowed, _ = store.IsAllowed("shell", cmdArgs("npm install lodash"))
	assert.False(t, allowed)

	rec, err := store.Remember("shell", cmdArgs("npm install lodash"), true)
	require.NoError(t, err)
	assert.Equal(t, RecordPrefix, rec.Kind)
	assert.Equal(t, "npm install", rec.Prefix)

	allowed, _ = store.IsAllowed("shell", cmdArgs("npm install react"))
	assert.True(t, allowed, "approved prefix covers new arguments")
	allowed, _ = store.IsAllowed("shell", cmdArgs("npm install react && ls"))
	assert.True(t, allowed, "every segment is safe or approved")
	allowed, _ = store.IsAllowed("shell", cmdArgs("npm install react && rm -rf /"))
	assert.False(t, allowed)
	allowed, _ = store.IsAllowed("shell", cmdArgs("npm publish"))
	assert.False(t, allowed)
	allowed, _ = store.IsAllowed("shell", cmdArgs("npm install x > log"))
	assert.False(t, allowed, "redirection is never approved by prefix")

	args := json.RawMessage(`{"path":"a.go","content":"x"}`)
	allowed, _ = store.IsAllowed("write_file", args)
	assert.False(t, allowed)
	_, err = store.Remember("write_file", args, true)
	require.NoError(t, err)
	allowed, _ = store.IsAllowed("write_file", json.RawMessage(`{"content":"x","path":"a.go"}`))
	assert.True(t, allowed, "exact match ignores key order")
	allowed, _ = store.IsAllowed("write_file", json.RawMessage(`{"path":"b.go","content":"x"}`))
	assert.False(t, allowed)

	allowed, _ = store.IsAllowed("read_file", cmdArgs("ls"))
	assert.False(t, allowed, "safe-command list applies to shell tools only")

	_, err = store.Remember("shell", cmdArgs("npm install again"), true)
	require.NoError(t, err)
	records, _ := store.Records()
	assert.Len(t, records, 2, "duplicate records are not stored")
}

func TestFileStorePersistsPerProject(t *testing.T) {
	dataDir := t.TempDir()
	projectA := t.TempDir()
	projectB := t.TempDir()

	store, err := OpenFileStore(dataDir, projectA)
	require.NoError(t, err)
	_, err = store.Remember("shell", cmdArgs("make build"), true)
	require.NoError(t, err)
	assert.FileExists(t, store.Path())

	reopened, err := OpenFileStore(dataDir, projectA)
	require.NoError(t, err)
	allowed, err := reopened.IsAllowed("shell", cmdArgs("make build"))
	require.NoError(t, err)
	assert.True(t, allowed)

	other, err := OpenFileStore(dataDir, projectB)
	require.NoError(t, err)
	allowed, _ = other.IsAllowed("shell", cmdArgs("make build"))
	assert.False(t, allowed, "records are scoped to their project")
	assert.NotEqual(t, store.Path(), other.Path())
}

func TestFileStoreReadsCommentedJSON(t *testing.T) {
	dataDir := t.TempDir()
	project := t.TempDir()
	abs, _ := filepath.Abs(project)
	path := filepath.Join(dataDir, "permissions", ProjectKey(abs)+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{
  // approved by hand
  "project": "x",
  "records": [
    {"tool": "shell", "kind": "prefix", "prefix": "go test",},
  ],
}`), 0o644))

	store, err := OpenFileStore(dataDir, project)
	require.NoError(t, err)
	allowed, _ := store.IsAllowed("shell", cmdArgs("go test ./..."))
	assert.True(t, allowed)
}

func TestProjectKeyIsStable(t *testing.T) {
	assert.Equal(t, ProjectKey("/a/b"), ProjectKey("/a/b/"))
	assert.NotEqual(t, ProjectKey("/a/b"), ProjectKey("/a/c"))
	assert.Len(t, ProjectKey("/a"), 32)
}
