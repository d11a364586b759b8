package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ShayCichocki/conductor/internal/protect"
)

const maxToolOutput = 30000

// ErrOutsideWorkspace is returned for writes that escape the workspace.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	Content string
	IsError bool
}

func toolError(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// ToolExecutor runs tool calls against a workspace directory.
type ToolExecutor struct {
	workDir string
	// Guard refuses writes to protected paths. Nil allows everything inside
	// the workspace.
	Guard *protect.Guard
	// OnWrite, if set, is called with the workspace-relative path of every
	// file a Write or Edit changes.
	OnWrite func(path string)
}

// NewToolExecutor returns an executor rooted at workDir.
func NewToolExecutor(workDir string) *ToolExecutor {
	return &ToolExecutor{workDir: workDir}
}

// Execute dispatches by tool name.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	switch name {
	case "Read":
		return e.read(input)
	case "Write":
		return e.write(input)
	case "Edit":
		return e.edit(input)
	case "Bash":
		return e.bash(ctx, input)
	case "Glob":
		return e.glob(input)
	case "Grep":
		return e.grep(ctx, input)
	case "ListDir":
		return e.listDir(input)
	}
	return toolError("Unknown tool: %s", name)
}

func (e *ToolExecutor) read(input json.RawMessage) ToolResult {
	var p struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	data, err := os.ReadFile(e.resolve(p.FilePath))
	if err != nil {
		return toolError("Failed to read file: %v", err)
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if p.Offset > 0 {
		start = p.Offset - 1
		if start >= len(lines) {
			return toolError("Offset beyond end of file")
		}
	}
	end := len(lines)
	if p.Limit > 0 {
		end = min(start+p.Limit, len(lines))
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: b.String()}
}

func (e *ToolExecutor) write(input json.RawMessage) ToolResult {
	var p struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	path, rel, err := e.writable(p.FilePath)
	if err != nil {
		return toolError("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return toolError("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0644); err != nil {
		return toolError("Failed to write file: %v", err)
	}
	e.wrote(rel)
	return ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), rel)}
}

func (e *ToolExecutor) edit(input json.RawMessage) ToolResult {
	var p struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	path, rel, err := e.writable(p.FilePath)
	if err != nil {
		return toolError("%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return toolError("Failed to read file: %v", err)
	}

	content := string(data)
	n := strings.Count(content, p.OldString)
	switch {
	case p.OldString == "" || n == 0:
		return toolError("old_string not found in file")
	case n > 1 && !p.ReplaceAll:
		return toolError("old_string found %d times; make it unique or set replace_all", n)
	}

	replaced := 1
	if p.ReplaceAll {
		content = strings.ReplaceAll(content, p.OldString, p.NewString)
		replaced = n
	} else {
		content = strings.Replace(content, p.OldString, p.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return toolError("Failed to write file: %v", err)
	}
	e.wrote(rel)
	return ToolResult{Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, rel)}
}

func (e *ToolExecutor) bash(ctx context.Context, input json.RawMessage) ToolResult {
	var p struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}

	timeout := 2 * time.Minute
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", p.Command)
	cmd.Dir = e.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return toolError("Command timed out after %s:\n%s", timeout, truncate(string(out)))
		}
		return toolError("%s\nError: %v", truncate(string(out)), err)
	}
	return ToolResult{Content: truncate(string(out))}
}

func (e *ToolExecutor) glob(input json.RawMessage) ToolResult {
	var p struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	root := e.workDir
	if p.Path != "" {
		root = e.resolve(p.Path)
	}

	matches, err := doublestar.Glob(os.DirFS(root), p.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return toolError("Glob error: %v", err)
	}
	if len(matches) == 0 {
		return ToolResult{Content: "No files matched the pattern"}
	}
	return ToolResult{Content: truncate(strings.Join(matches, "\n"))}
}

func (e *ToolExecutor) grep(ctx context.Context, input json.RawMessage) ToolResult {
	var p struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}

	args := []string{"--color=never", "-n"}
	if p.Glob != "" {
		args = append(args, "--glob", p.Glob)
	}
	target := e.workDir
	if p.Path != "" {
		target = e.resolve(p.Path)
	}
	args = append(args, "--", p.Pattern, target)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	// rg exits non-zero when nothing matches.
	out, _ := exec.CommandContext(ctx, "rg", args...).CombinedOutput()
	if len(out) == 0 {
		return ToolResult{Content: "No matches found"}
	}
	return ToolResult{Content: truncate(string(out))}
}

func (e *ToolExecutor) listDir(input json.RawMessage) ToolResult {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return toolError("Invalid parameters: %v", err)
	}
	entries, err := os.ReadDir(e.resolve(p.Path))
	if err != nil {
		return toolError("Failed to read directory: %v", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "d %s/\n", entry.Name())
			continue
		}
		if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&b, "? %s\n", entry.Name())
		}
	}
	return ToolResult{Content: b.String()}
}

func (e *ToolExecutor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

// writable resolves path and checks it stays inside the workspace. It
// returns the absolute path and the slash-separated relative path.
func (e *ToolExecutor) writable(path string) (string, string, error) {
	abs := e.resolve(path)
	root, err := filepath.Abs(e.workDir)
	if err != nil {
		return "", "", err
	}
	abs, err = filepath.Abs(abs)
	if err != nil {
		return "", "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%s: %w", path, ErrOutsideWorkspace)
	}
	rel = filepath.ToSlash(rel)
	if err := e.Guard.Check(rel); err != nil {
		return "", "", err
	}
	return abs, rel, nil
}

func (e *ToolExecutor) wrote(rel string) {
	if e.OnWrite != nil {
		e.OnWrite(rel)
	}
}

func truncate(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}
