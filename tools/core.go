package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Names of the built-in tools.
const (
	ReadFile  = "read_file"
	ListDir   = "list_dir"
	Grep      = "grep"
	Glob      = "glob"
	WriteFile = "write_file"
	EditFile  = "edit_file"
	Shell     = "shell"
)

// ShellConfig bounds shell command timeouts.
type ShellConfig struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// DefaultShellConfig returns a 2 minute default and 10 minute ceiling.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{DefaultTimeout: 2 * time.Minute, MaxTimeout: 10 * time.Minute}
}

// RegisterCore registers the built-in tools on reg.
func RegisterCore(reg *Registry, shell ShellConfig) {
	reg.MustRegister(readFileTool())
	reg.MustRegister(listDirTool())
	reg.MustRegister(grepTool())
	reg.MustRegister(globTool())
	reg.MustRegister(writeFileTool())
	reg.MustRegister(editFileTool())
	reg.MustRegister(shellTool(shell))
}

func decode(raw json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func readFileTool() Tool {
	return Tool{
		Kind: KindReadOnly,
		Definition: defn(ReadFile,
			"Read a file. Returns line-numbered content.",
			object([]string{"file_path"}, map[string]any{
				"file_path": prop("string", "Path to the file, absolute or relative to the working directory."),
				"offset":    map[string]any{"type": "integer", "minimum": 1, "description": "1-based line to start from."},
				"limit":     map[string]any{"type": "integer", "minimum": 1, "description": "Maximum lines to read. Default: 2000."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				FilePath string `json:"file_path"`
				Offset   int    `json:"offset"`
				Limit    int    `json:"limit"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			content, err := inv.Env.ReadFile(args.FilePath)
			if err != nil {
				return "", err
			}
			if args.Limit == 0 {
				args.Limit = 2000
			}
			return numberLines(content, args.Offset, args.Limit), nil
		},
	}
}

func numberLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return sb.String()
}

func listDirTool() Tool {
	return Tool{
		Kind: KindReadOnly,
		Definition: defn(ListDir,
			"List the entries of a directory.",
			object(nil, map[string]any{
				"path": prop("string", "Directory to list. Default: working directory."),
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			if args.Path == "" {
				args.Path = "."
			}
			entries, err := inv.Env.ListDirectory(args.Path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "Directory is empty.", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			return sb.String(), nil
		},
	}
}

func grepTool() Tool {
	return Tool{
		Kind: KindReadOnly,
		Definition: defn(Grep,
			"Search file contents with a regular expression. Returns matching lines with paths and line numbers.",
			object([]string{"pattern"}, map[string]any{
				"pattern":          prop("string", "Regex pattern to search for."),
				"path":             prop("string", "Directory or file to search. Default: working directory."),
				"glob_filter":      prop("string", `File name filter, e.g. "*.go".`),
				"case_insensitive": prop("boolean", "Case insensitive search."),
				"max_results":      map[string]any{"type": "integer", "minimum": 1, "description": "Maximum matches per file. Default: 100."},
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				Pattern         string `json:"pattern"`
				Path            string `json:"path"`
				GlobFilter      string `json:"glob_filter"`
				CaseInsensitive bool   `json:"case_insensitive"`
				MaxResults      int    `json:"max_results"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			if args.MaxResults == 0 {
				args.MaxResults = 100
			}
			out, err := inv.Env.Grep(ctx, args.Pattern, args.Path, GrepOptions{
				GlobFilter:      args.GlobFilter,
				CaseInsensitive: args.CaseInsensitive,
				MaxResults:      args.MaxResults,
			})
			if err != nil {
				return "", err
			}
			if out == "" {
				return "No matches found.", nil
			}
			return out, nil
		},
	}
}

func globTool() Tool {
	return Tool{
		Kind: KindReadOnly,
		Definition: defn(Glob,
			"Find files matching a glob pattern such as **/*.go. Returns paths, newest first.",
			object([]string{"pattern"}, map[string]any{
				"pattern": prop("string", "Glob pattern. ** matches any number of directories."),
				"path":    prop("string", "Base directory. Default: working directory."),
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				Pattern string `json:"pattern"`
				Path    string `json:"path"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			matches, err := inv.Env.Glob(args.Pattern, args.Path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched the pattern.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func writeFileTool() Tool {
	return Tool{
		Kind: KindEdit,
		Definition: defn(WriteFile,
			"Write content to a file, creating parent directories as needed. Overwrites existing files.",
			object([]string{"file_path", "content"}, map[string]any{
				"file_path": prop("string", "Path to write to."),
				"content":   prop("string", "The full file content."),
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				FilePath string `json:"file_path"`
				Content  string `json:"content"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			if err := inv.Env.WriteFile(args.FilePath, args.Content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.FilePath), nil
		},
	}
}

func editFileTool() Tool {
	return Tool{
		Kind: KindEdit,
		Definition: defn(EditFile,
			"Replace an exact string in a file. old_string must be unique unless replace_all is true.",
			object([]string{"file_path", "old_string", "new_string"}, map[string]any{
				"file_path":   prop("string", "Path to the file to edit."),
				"old_string":  map[string]any{"type": "string", "minLength": 1, "description": "Exact text to find."},
				"new_string":  prop("string", "Replacement text."),
				"replace_all": prop("boolean", "Replace every occurrence."),
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				FilePath   string `json:"file_path"`
				OldString  string `json:"old_string"`
				NewString  string `json:"new_string"`
				ReplaceAll bool   `json:"replace_all"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			content, err := inv.Env.ReadFile(args.FilePath)
			if err != nil {
				return "", err
			}
			count := strings.Count(content, args.OldString)
			switch {
			case count == 0:
				return "", fmt.Errorf("old_string not found in %s", args.FilePath)
			case count > 1 && !args.ReplaceAll:
				return "", fmt.Errorf("old_string found %d times in %s; add context to make it unique or set replace_all", count, args.FilePath)
			}
			n := 1
			if args.ReplaceAll {
				n = -1
			}
			if err := inv.Env.WriteFile(args.FilePath, strings.Replace(content, args.OldString, args.NewString, n)); err != nil {
				return "", err
			}
			if !args.ReplaceAll {
				count = 1
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s", count, args.FilePath), nil
		},
	}
}

func shellTool(cfg ShellConfig) Tool {
	return Tool{
		Kind: KindShell,
		Definition: defn(Shell,
			"Run a shell command in the working directory. Returns combined output and the exit code.",
			object([]string{"command"}, map[string]any{
				"command":     map[string]any{"type": "string", "minLength": 1, "description": "The command line to run."},
				"timeout_ms":  map[string]any{"type": "integer", "minimum": 1, "description": "Override the default timeout in milliseconds."},
				"description": prop("string", "What the command does, shown to the user."),
			})),
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			var args struct {
				Command   string `json:"command"`
				TimeoutMs int    `json:"timeout_ms"`
			}
			if err := decode(inv.Arguments, &args); err != nil {
				return "", err
			}
			timeout := cfg.DefaultTimeout
			if args.TimeoutMs > 0 {
				timeout = time.Duration(args.TimeoutMs) * time.Millisecond
			}
			if cfg.MaxTimeout > 0 && timeout > cfg.MaxTimeout {
				timeout = cfg.MaxTimeout
			}

			result, err := inv.Env.ExecCommand(ctx, args.Command, timeout, inv.Progress)
			if err != nil {
				return "", err
			}

			var sb strings.Builder
			sb.WriteString(result.Output())
			switch {
			case result.Cancelled:
				sb.WriteString("\n\n[Command was cancelled. Partial output is shown above.]")
			case result.TimedOut:
				fmt.Fprintf(&sb, "\n\n[Command timed out after %s. Partial output is shown above. Retry with a larger timeout_ms if needed.]", timeout)
			case result.ExitCode != 0:
				fmt.Fprintf(&sb, "\n\n[Exit code: %d]", result.ExitCode)
			}
			return sb.String(), nil
		},
	}
}
