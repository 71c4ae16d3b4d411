package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kota/internal/logging"
	"kota/internal/sandbox"
)

var errEntryLimit = errors.New("entry limit reached")

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Tool interface {
	Definition() ToolDefinition
	Call(ctx context.Context, args map[string]any) (string, error)
}

type Registry struct {
	tools       map[string]Tool
	definitions []ToolDefinition
}

func NewRegistry(tools ...Tool) *Registry {
	bucket := make(map[string]Tool, len(tools))
	defs := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		def := tool.Definition()
		bucket[def.Function.Name] = tool
		defs = append(defs, def)
	}
	return &Registry{tools: bucket, definitions: defs}
}

func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) MustGet(name string) Tool {
	tool, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("tool %s is not registered", name))
	}
	return tool
}

type Options struct {
	Workspace    sandbox.Root
	ShellTimeout time.Duration
	FetchTimeout time.Duration
}

// DefaultTools builds the full tool set for a workspace. Every tool
// that touches the filesystem resolves its paths through the sandbox
// root before doing any I/O.
func DefaultTools(opts Options) []Tool {
	root := opts.Workspace
	shellTimeout := opts.ShellTimeout
	if shellTimeout <= 0 {
		shellTimeout = 60 * time.Second
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = shellTimeout
	}

	return []Tool{
		DateTimeTool{},
		WorkingDirectoryTool{root: root},
		ListFilesTool{root: root},
		ReadFileTool{root: root},
		&ShellTool{
			root:    root,
			timeout: shellTimeout,
			history: make(map[string]int),
		},
		NewWriteFileTool(root),
		NewEditFileTool(root),
		NewGlobTool(root),
		NewGrepTool(root),
		NewMakeDirectoryTool(root),
		NewRemovePathTool(root),
		NewMovePathTool(root),
		NewCopyPathTool(root),
		NewWebFetchTool(fetchTimeout),
	}
}

type DateTimeTool struct{}

func (DateTimeTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "current_datetime",
			Description: "Return the user's current local date and time. Optional format override via Go time layout tokens.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"format": map[string]any{
						"type":        "string",
						"description": "Optional Go time layout (default RFC3339).",
					},
				},
			},
		},
	}
}

func (DateTimeTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	layout := time.RFC3339
	if custom, ok := stringArg(args, "format"); ok && custom != "" {
		layout = custom
	}
	return time.Now().Format(layout), nil
}

type WorkingDirectoryTool struct {
	root sandbox.Root
}

func (w WorkingDirectoryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "current_working_directory",
			Description: "Return the absolute workspace root configured for the agent.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (w WorkingDirectoryTool) Call(ctx context.Context, _ map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return w.root.Path(), nil
}

type ListFilesTool struct {
	root sandbox.Root
}

func (ListFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "list_directory",
			Description: "List files within a directory, optionally recursively. All paths are constrained inside the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory path to list (default workspace root).",
					},
					"recursive": map[string]any{
						"type":        "boolean",
						"description": "Whether to walk subdirectories.",
					},
					"include_hidden": map[string]any{
						"type":        "boolean",
						"description": "Include entries whose names start with '.'.",
					},
					"max_entries": map[string]any{
						"type":        "integer",
						"description": "Maximum number of entries to return (default 200).",
					},
				},
			},
		},
	}
}

func (l ListFilesTool) Call(ctx context.Context, args map[string]any) (string, error) {
	target := ""
	if provided, ok := stringArg(args, "path"); ok {
		target = provided
	}
	dir, err := l.root.Resolve(target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	includeHidden := boolArg(args, "include_hidden", false)
	recursive := boolArg(args, "recursive", false)
	maxEntries := intArg(args, "max_entries", 200)
	if maxEntries <= 0 {
		maxEntries = 200
	}

	type entry struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	results := make([]entry, 0, maxEntries)
	truncated := false

	addEntry := func(path string, isDir bool) bool {
		if len(results) >= maxEntries {
			truncated = true
			return false
		}
		rel := l.root.Rel(path)
		if rel == "." {
			return true
		}
		name := filepath.Base(path)
		if !includeHidden && strings.HasPrefix(name, ".") {
			return true
		}
		results = append(results, entry{Path: rel, Type: typeOf(isDir)})
		return true
	}

	if recursive {
		walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if path == dir {
				return nil
			}
			if !addEntry(path, d.IsDir()) {
				return errEntryLimit
			}
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, context.Canceled) && !errors.Is(walkErr, errEntryLimit) {
			return "", walkErr
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}
			if !includeHidden && strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if !addEntry(filepath.Join(dir, e.Name()), e.IsDir()) {
				break
			}
		}
	}

	payload := map[string]any{
		"path":      dir,
		"entries":   results,
		"truncated": truncated,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type ReadFileTool struct {
	root sandbox.Root
}

func (ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "read_file",
			Description: "Read a UTF-8 text file and return its contents (optionally truncated). The path must stay within the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to the file to read, relative to the workspace root.",
					},
					"max_bytes": map[string]any{
						"type":        "integer",
						"description": "Maximum number of bytes to return (default 4096).",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (r ReadFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", errors.New("path is required")
	}
	abs, err := r.root.Resolve(path)
	if err != nil {
		return "", err
	}
	maxBytes := intArg(args, "max_bytes", 4096)
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}
	payload := map[string]any{
		"path":      r.root.Rel(abs),
		"bytes":     len(data),
		"truncated": truncated,
		"content":   string(data),
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type ShellTool struct {
	root    sandbox.Root
	timeout time.Duration
	history map[string]int
	hmu     sync.Mutex
}

func (s *ShellTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "shell",
			Description: "Execute a command within the workspace root. All file operations must stay inside the workspace tree. Commands that wait for interactive input will hang and time out.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"description": "Command to execute. Can be either an array of strings ['ls', '-la'] or a shell command string 'ls -la'.",
						"oneOf": []map[string]any{
							{
								"type": "array",
								"items": map[string]any{
									"type": "string",
								},
							},
							{
								"type": "string",
							},
						},
					},
					"workdir": map[string]any{
						"type":        "string",
						"description": "Working directory relative to the workspace root.",
					},
					"timeout_seconds": map[string]any{
						"type":        "number",
						"description": "Override the default timeout. Maximum 300 seconds (5 minutes).",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

func (s *ShellTool) Call(ctx context.Context, args map[string]any) (string, error) {
	rawCmd, err := commandArg(args)
	if err != nil {
		return "", err
	}

	blockedCommands := []string{"sudo", "su", "passwd"}
	cmdName := filepath.Base(rawCmd[0])
	for _, blocked := range blockedCommands {
		if cmdName == blocked {
			logging.ErrorLog("shell: blocked command '%s' - interactive commands not allowed", blocked)
			return "", fmt.Errorf("command '%s' requires interactive input and is not allowed. Use alternative approaches that don't require user interaction", blocked)
		}
	}

	workdir := ""
	if provided, ok := stringArg(args, "workdir"); ok {
		workdir = provided
	}
	resolvedDir, err := s.root.Resolve(workdir)
	if err != nil {
		return "", err
	}

	logging.DevLog("shell: executing command %v in %s", rawCmd, workdir)

	key := s.commandKey(resolvedDir, rawCmd)
	count := s.recordCommand(key)
	var warning string
	switch {
	case count > 5:
		return "", errors.New("this exact command has been run too many times in this session")
	case count > 3:
		warning = fmt.Sprintf("This command has been repeated %d times. Stop and reconsider the approach.", count)
	}
	timeout := s.timeout
	if override, ok := args["timeout_seconds"]; ok {
		switch v := override.(type) {
		case float64:
			if v > 0 {
				timeout = time.Duration(v * float64(time.Second))
			}
		case int:
			if v > 0 {
				timeout = time.Duration(v) * time.Second
			}
		}
	}

	const maxShellTimeout = 300 * time.Second
	if timeout > maxShellTimeout {
		return "", fmt.Errorf("timeout_seconds cannot exceed 300 (5 minutes)")
	}

	ctxWithTimeout := ctx
	cancel := func() {}
	if timeout > 0 {
		ctxWithTimeout, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctxWithTimeout, rawCmd[0], rawCmd[1:]...)
	cmd.Dir = resolvedDir

	cmd.Stdin = nil // prevent hangs on interactive input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)
	exitCode := 0
	if ps := cmd.ProcessState; ps != nil {
		exitCode = ps.ExitCode()
	}

	logging.DevLog("shell: command completed in %dms with exit code %d", duration.Milliseconds(), exitCode)

	result := map[string]any{
		"workdir":     resolvedDir,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
	}
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			logging.ErrorLog("shell: command timed out after %d seconds", int(timeout.Seconds()))
			result["error"] = fmt.Sprintf("Command timed out after %d seconds and was killed. Output may be incomplete.", int(timeout.Seconds()))
			result["timed_out"] = true
		} else {
			logging.ErrorLog("shell: command failed: %v", runErr)
			result["error"] = runErr.Error()
		}
	}
	if warning != "" {
		logging.ErrorLog("shell: %s", warning)
		result["warning"] = warning
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *ShellTool) commandKey(workdir string, cmd []string) string {
	return workdir + "|" + strings.Join(cmd, "\x00")
}

func (s *ShellTool) recordCommand(key string) int {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if s.history == nil {
		s.history = make(map[string]int)
	}
	s.history[key]++
	return s.history[key]
}

// commandArg accepts the shell command either as an argv array or as
// a single string to tolerate both shapes models produce.
func commandArg(args map[string]any) ([]string, error) {
	cmdRaw, ok := args["command"]
	if !ok {
		return nil, errors.New("command is required")
	}
	var rawCmd []string
	var err error
	switch v := cmdRaw.(type) {
	case []string:
		rawCmd = v
	case []any:
		rawCmd, err = stringSliceArg(args, "command")
		if err != nil {
			return nil, err
		}
	case string:
		rawCmd, err = parseShellCommand(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse command string: %w", err)
		}
	default:
		return nil, errors.New("command must be an array of strings or a command string")
	}
	if len(rawCmd) == 0 {
		return nil, errors.New("command must not be empty")
	}
	return rawCmd, nil
}

func stringSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("%s is required", key)
	}
	switch v := raw.(type) {
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s is empty", key)
		}
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for idx, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] is not a string", key, idx)
			}
			out = append(out, str)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%s is empty", key)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	switch cast := val.(type) {
	case string:
		return cast, true
	default:
		return fmt.Sprintf("%v", cast), true
	}
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch n := val.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return defaultVal
	}
}

func typeOf(isDir bool) string {
	if isDir {
		return "directory"
	}
	return "file"
}

func parseShellCommand(cmd string) ([]string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil, errors.New("command string is empty")
	}

	var args []string
	var current strings.Builder
	var inQuote rune
	escaped := false

	for _, ch := range cmd {
		if escaped {
			current.WriteRune(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			escaped = true
			continue
		}

		if inQuote != 0 {
			if ch == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(ch)
			}
			continue
		}

		if ch == '"' || ch == '\'' {
			inQuote = ch
			continue
		}

		if ch == ' ' || ch == '\t' {
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
			continue
		}

		current.WriteRune(ch)
	}

	if inQuote != 0 {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if len(args) == 0 {
		return nil, errors.New("no arguments parsed from command string")
	}

	return args, nil
}
