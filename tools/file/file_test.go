package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/fabric"
)

// dirSandbox is a minimal fabric.Sandbox backed directly by a host
// directory, enough to exercise the file tools without a container.
type dirSandbox struct{ root string }

func (d dirSandbox) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", errors.New("absolute paths not allowed: " + path)
	}
	if strings.Contains(path, "..") {
		return "", errors.New("path traversal not allowed: " + path)
	}
	return filepath.Join(d.root, path), nil
}

func (d dirSandbox) Exec(context.Context, string, []string) (fabric.ExecResult, error) {
	return fabric.ExecResult{}, errors.New("not implemented")
}
func (d dirSandbox) WriteFile(_ context.Context, path string, data []byte) error {
	resolved, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return err
	}
	return os.WriteFile(resolved, data, 0644)
}
func (d dirSandbox) ReadFile(_ context.Context, path string) ([]byte, error) {
	resolved, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}
func (d dirSandbox) ListDir(_ context.Context, path string) ([]fabric.DirEntry, error) {
	resolved, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	out := make([]fabric.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, _ := e.Info()
		var size int64
		if info != nil {
			size = info.Size()
		}
		out = append(out, fabric.DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return out, nil
}
func (d dirSandbox) Remove(_ context.Context, path string) error {
	resolved, err := d.resolve(path)
	if err != nil {
		return err
	}
	return os.Remove(resolved)
}
func (d dirSandbox) Export(context.Context, string, string) error { return nil }
func (d dirSandbox) Close(context.Context) error                  { return nil }

func TestFileWrite(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "test.txt", "content": "hello"})
	result, err := (WriteTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content)
	}

	data, _ := os.ReadFile(filepath.Join(sb.root, "test.txt"))
	if string(data) != "hello" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestFileRead(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	os.WriteFile(filepath.Join(sb.root, "test.txt"), []byte("content here"), 0644)
	args, _ := json.Marshal(map[string]string{"path": "test.txt"})
	result, err := (ReadTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "content here" {
		t.Errorf("wrong content: %q", result.Content)
	}
}

func TestFileWriteSubdir(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "sub/dir/file.txt", "content": "nested"})
	_, err := (WriteTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(sb.root, "sub/dir/file.txt"))
	if string(data) != "nested" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestFilePathTraversal(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "../etc/passwd"})
	_, err := (ReadTool{}).Call(context.Background(), sb, args)
	if err == nil {
		t.Error("expected path traversal error")
	}
}

func TestFileAbsolutePath(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "/etc/passwd"})
	_, err := (ReadTool{}).Call(context.Background(), sb, args)
	if err == nil {
		t.Error("expected absolute path error")
	}
}

func TestFileReadTruncation(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	bigContent := make([]byte, 10000)
	for i := range bigContent {
		bigContent[i] = 'A'
	}
	os.WriteFile(filepath.Join(sb.root, "big.txt"), bigContent, 0644)
	args, _ := json.Marshal(map[string]string{"path": "big.txt"})
	result, err := (ReadTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) > 8100 {
		t.Errorf("content not truncated: %d chars", len(result.Content))
	}
}

func TestFileReadNonexistent(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "does_not_exist.txt"})
	_, err := (ReadTool{}).Call(context.Background(), sb, args)
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFileWriteOverwrite(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "ow.txt", "content": "first"})
	(WriteTool{}).Call(context.Background(), sb, args)

	args, _ = json.Marshal(map[string]string{"path": "ow.txt", "content": "second"})
	_, err := (WriteTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(sb.root, "ow.txt"))
	if string(data) != "second" {
		t.Errorf("expected 'second', got %q", string(data))
	}
}

func TestFileList(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	os.WriteFile(filepath.Join(sb.root, "a.txt"), []byte("a"), 0644)
	os.WriteFile(filepath.Join(sb.root, "b.txt"), []byte("b"), 0644)
	os.Mkdir(filepath.Join(sb.root, "subdir"), 0755)

	args, _ := json.Marshal(map[string]string{"path": "."})
	result, err := (ListTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "file\ta.txt") {
		t.Errorf("expected a.txt in listing, got: %s", result.Content)
	}
	if !strings.Contains(result.Content, "dir\tsubdir") {
		t.Errorf("expected subdir in listing, got: %s", result.Content)
	}
}

func TestFileListDefaultPath(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	os.WriteFile(filepath.Join(sb.root, "root.txt"), []byte("r"), 0644)
	args, _ := json.Marshal(map[string]string{})
	result, err := (ListTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "root.txt") {
		t.Errorf("expected root.txt in listing, got: %s", result.Content)
	}
}

func TestFileRemove(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	os.WriteFile(filepath.Join(sb.root, "del.txt"), []byte("bye"), 0644)
	args, _ := json.Marshal(map[string]string{"path": "del.txt"})
	_, err := (RemoveTool{}).Call(context.Background(), sb, args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sb.root, "del.txt")); !os.IsNotExist(err) {
		t.Error("file should have been deleted")
	}
}

func TestFileRemoveNonexistent(t *testing.T) {
	sb := dirSandbox{root: t.TempDir()}
	args, _ := json.Marshal(map[string]string{"path": "ghost.txt"})
	_, err := (RemoveTool{}).Call(context.Background(), sb, args)
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestReplayEligibility(t *testing.T) {
	if (ReadTool{}).NeedsReplay() {
		t.Error("file_read should not need replay")
	}
	if (ListTool{}).NeedsReplay() {
		t.Error("file_list should not need replay")
	}
	if !(WriteTool{}).NeedsReplay() {
		t.Error("file_write should need replay")
	}
	if !(RemoveTool{}).NeedsReplay() {
		t.Error("file_remove should need replay")
	}
}

func TestRegisterAll(t *testing.T) {
	reg := fabric.NewToolRegistry()
	RegisterAll(reg)
	defs := reg.Definitions()
	if len(defs) != 4 {
		t.Fatalf("expected 4 definitions, got %d", len(defs))
	}
}
