package files

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"logviewer/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testExts = []string{".log", ".json"}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildFixture(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "logs")
	writeFile(t, filepath.Join(root, "b.log"), "b")
	writeFile(t, filepath.Join(root, "a.log"), "a")
	writeFile(t, filepath.Join(root, "A.log"), "A")
	writeFile(t, filepath.Join(root, "notes.md"), "skip me")
	writeFile(t, filepath.Join(root, "zdir", "run.json"), `{"ok":true}`)
	writeFile(t, filepath.Join(root, "Adir", "deep", "x.log"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	return root
}

func names(n *Node) []string {
	out := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c.Name)
	}
	return out
}

func TestBuildTreeSortsAndFilters(t *testing.T) {
	root := buildFixture(t)
	tree, err := BuildTree(context.Background(), root, testExts, nopLogger())
	require.NoError(t, err)
	require.NotNil(t, tree)

	assert.Equal(t, "logs", tree.Name)
	assert.Equal(t, TypeDirectory, tree.Type)
	assert.Equal(t, []string{"Adir", "empty", "zdir", "A.log", "a.log", "b.log"}, names(tree))

	empty := tree.Children[1]
	assert.True(t, empty.IsDir())
	assert.Empty(t, empty.Children)

	file := tree.Children[3]
	assert.Equal(t, filepath.Join(root, "A.log"), file.Path)
	assert.EqualValues(t, 1, file.Size)
	require.NotNil(t, file.Modified)
	require.NotNil(t, file.Created)

	assert.Equal(t, 5, tree.CountFiles())
}

func TestBuildTreeNotDirectory(t *testing.T) {
	root := buildFixture(t)
	tree, err := BuildTree(context.Background(), filepath.Join(root, "a.log"), testExts, nopLogger())
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestBuildTreeMissingRoot(t *testing.T) {
	_, err := BuildTree(context.Background(), filepath.Join(t.TempDir(), "nope"), testExts, nopLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBuildTreeSymlinkCycle(t *testing.T) {
	root := buildFixture(t)
	require.NoError(t, os.Symlink(root, filepath.Join(root, "zdir", "loop")))
	tree, err := BuildTree(context.Background(), root, testExts, nopLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, tree.CountFiles())
}

func TestNodeJSONShape(t *testing.T) {
	root := buildFixture(t)
	tree, err := BuildTree(context.Background(), root, testExts, nopLogger())
	require.NoError(t, err)

	b, err := json.Marshal(tree)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "directory", m["type"])
	assert.NotContains(t, m, "size")

	children := m["children"].([]any)
	empty := children[1].(map[string]any)
	assert.Equal(t, []any{}, empty["children"])

	file := children[3].(map[string]any)
	assert.Equal(t, "file", file["type"])
	assert.NotContains(t, file, "children")
	assert.Contains(t, file, "modified")
	assert.Contains(t, file, "created")
}

func TestServiceTreeCaching(t *testing.T) {
	root := buildFixture(t)
	svc := New(Options{Root: root, Extensions: testExts})
	ctx := context.Background()

	first, err := svc.Tree(ctx)
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "c.log"), "c")

	cached, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Same(t, first, cached)

	svc.Invalidate()
	fresh, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, fresh.CountFiles())

	writeFile(t, filepath.Join(root, "d.log"), "d")
	reloaded, err := svc.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.CountFiles())
	assert.False(t, svc.BuiltAt().IsZero())
}

func TestReadFile(t *testing.T) {
	root := buildFixture(t)
	svc := New(Options{Root: root, Extensions: testExts})

	fc, err := svc.ReadFile(filepath.Join(root, "zdir", "run.json"))
	require.NoError(t, err)
	assert.Equal(t, "run.json", fc.Name)
	assert.Equal(t, `{"ok":true}`, fc.Content)
	assert.EqualValues(t, 11, fc.Size)

	rel, err := svc.ReadFile("zdir/run.json")
	require.NoError(t, err)
	assert.Equal(t, fc.Path, rel.Path)
}

func TestReadFileErrors(t *testing.T) {
	root := buildFixture(t)
	sibling := root + "2"
	writeFile(t, filepath.Join(sibling, "secret.log"), "secret")
	outside := filepath.Join(t.TempDir(), "outside.log")
	writeFile(t, outside, "outside")
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link.log")))

	svc := New(Options{Root: root, Extensions: testExts, MaxFileBytes: 4})

	cases := []struct {
		name string
		path string
		want error
	}{
		{"empty", "  ", ErrPathRequired},
		{"sibling prefix", filepath.Join(sibling, "secret.log"), ErrOutsideRoot},
		{"dotdot", "../logs2/secret.log", ErrOutsideRoot},
		{"absolute", "/etc/passwd", ErrOutsideRoot},
		{"symlink escape", filepath.Join(root, "link.log"), ErrOutsideRoot},
		{"missing", filepath.Join(root, "missing.log"), ErrNotFound},
		{"directory", filepath.Join(root, "zdir"), ErrIsDirectory},
		{"too large", filepath.Join(root, "zdir", "run.json"), ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ReadFile(tc.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestReadFileInvalidUTF8(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bin.log"), "ok\xffend")
	svc := New(Options{Root: root, Extensions: testExts})
	fc, err := svc.ReadFile("bin.log")
	require.NoError(t, err)
	assert.Equal(t, "ok�end", fc.Content)
}

func TestCheckRoot(t *testing.T) {
	root := buildFixture(t)
	st := New(Options{Root: root}).CheckRoot()
	assert.True(t, st.Exists)
	assert.True(t, st.IsDirectory)
	assert.Empty(t, st.Error)

	st = New(Options{Root: filepath.Join(root, "missing")}).CheckRoot()
	assert.False(t, st.Exists)
	assert.False(t, st.IsDirectory)
	assert.NotEmpty(t, st.Error)
}

func TestTailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "old line\n")

	tl, err := NewTailer(path, false)
	require.NoError(t, err)
	upd, err := tl.Poll()
	require.NoError(t, err)
	assert.Empty(t, upd.Lines)

	appendTo(t, path, "first\nsecond\npart")
	upd, err = tl.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, upd.Lines)

	appendTo(t, path, "ial\r\n")
	upd, err = tl.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, upd.Lines)

	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))
	upd, err = tl.Poll()
	require.NoError(t, err)
	assert.True(t, upd.Truncated)
	assert.Equal(t, []string{"new"}, upd.Lines)
	assert.EqualValues(t, 4, upd.Offset)
}

func TestTailerFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "a\nb\n")
	tl, err := NewTailer(path, true)
	require.NoError(t, err)
	upd, err := tl.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, upd.Lines)
}

func appendTo(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestWatcherInvalidatesOnChange(t *testing.T) {
	root := buildFixture(t)
	changed := make(chan []string, 4)
	w, err := NewWatcher(root, 20*time.Millisecond, func(paths []string) { changed <- paths }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "newdir"), 0o755))
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change batch for new directory")
	}

	writeFile(t, filepath.Join(root, "newdir", "n.log"), "n")
	select {
	case paths := <-changed:
		found := false
		for _, p := range paths {
			if strings.HasSuffix(p, "n.log") {
				found = true
			}
		}
		assert.True(t, found, "paths=%v", paths)
	case <-time.After(3 * time.Second):
		t.Fatal("no change batch for file in new directory")
	}

	cancel()
	require.NoError(t, <-done)
}

func nopLogger() *logging.Logger { return logging.NewNop() }

func TestServiceNoCache(t *testing.T) {
	root := buildFixture(t)
	svc := New(Options{Root: root, Extensions: testExts, NoCache: true})
	ctx := context.Background()

	first, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, first.CountFiles())
	assert.False(t, svc.Caching())

	writeFile(t, filepath.Join(root, "c.log"), "c")
	second, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, second.CountFiles())

	svc.SetCache(true)
	third, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, third.CountFiles())
	cached, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Same(t, third, cached)
}

func TestWatchPicksUpRootCreatedLater(t *testing.T) {
	root := filepath.Join(t.TempDir(), "logs")
	svc := New(Options{Root: root, Extensions: testExts})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, 20*time.Millisecond, 20*time.Millisecond) }()

	require.Eventually(t, func() bool { return !svc.Caching() }, 2*time.Second, 5*time.Millisecond)
	_, err := svc.Tree(context.Background())
	require.Error(t, err)

	countFiles := func(want int) func() bool {
		return func() bool {
			tree, err := svc.Tree(context.Background())
			return err == nil && tree.CountFiles() == want
		}
	}

	writeFile(t, filepath.Join(root, "a.log"), "a")
	require.Eventually(t, countFiles(1), 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, svc.Caching, 3*time.Second, 10*time.Millisecond)

	// the cached tree now follows the watcher
	writeFile(t, filepath.Join(root, "sub", "b.log"), "b")
	require.Eventually(t, countFiles(2), 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchStopsWhileRootMissing(t *testing.T) {
	svc := New(Options{Root: filepath.Join(t.TempDir(), "missing"), Extensions: testExts})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, 0, time.Hour) }()

	require.Eventually(t, func() bool { return !svc.Caching() }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
