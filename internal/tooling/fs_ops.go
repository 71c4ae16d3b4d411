package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kota/internal/sandbox"
)

// MakeDirectoryTool creates directories inside the workspace.
type MakeDirectoryTool struct {
	root sandbox.Root
}

func NewMakeDirectoryTool(root sandbox.Root) *MakeDirectoryTool {
	return &MakeDirectoryTool{root: root}
}

func (MakeDirectoryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "make_directory",
			Description: "Create a directory (and any missing parents) inside the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory path relative to the workspace root.",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (m *MakeDirectoryTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	path, ok := stringArg(args, "path")
	if !ok || strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	abs, err := m.root.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	payload := map[string]any{"path": m.root.Rel(abs), "created": true}
	data, _ := json.Marshal(payload)
	return string(data), nil
}

// RemovePathTool deletes a file or directory tree inside the workspace.
type RemovePathTool struct {
	root sandbox.Root
}

func NewRemovePathTool(root sandbox.Root) *RemovePathTool {
	return &RemovePathTool{root: root}
}

func (RemovePathTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "remove_path",
			Description: "Delete a file, or a directory when recursive=true. The path must stay within the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path to delete, relative to the workspace root.",
					},
					"recursive": map[string]any{
						"type":        "boolean",
						"description": "Required to delete a non-empty directory.",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (r *RemovePathTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	path, ok := stringArg(args, "path")
	if !ok || strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	abs, err := r.root.Resolve(path)
	if err != nil {
		return "", err
	}
	if abs == r.root.Path() {
		return "", errors.New("refusing to delete the workspace root itself")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	recursive := boolArg(args, "recursive", false)
	if info.IsDir() && !recursive {
		return "", fmt.Errorf("%s is a directory; pass recursive=true to delete it", r.root.Rel(abs))
	}
	if recursive {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return "", err
	}
	payload := map[string]any{"path": r.root.Rel(abs), "removed": true, "was_directory": info.IsDir()}
	data, _ := json.Marshal(payload)
	return string(data), nil
}

// MovePathTool renames a file or directory within the workspace. Both
// endpoints are resolved through the sandbox so neither side of the
// move can point outside the root.
type MovePathTool struct {
	root sandbox.Root
}

func NewMovePathTool(root sandbox.Root) *MovePathTool {
	return &MovePathTool{root: root}
}

func (MovePathTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "move_path",
			Description: "Move or rename a file or directory. Source and destination must both stay within the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{
						"type":        "string",
						"description": "Existing path, relative to the workspace root.",
					},
					"destination": map[string]any{
						"type":        "string",
						"description": "Target path, relative to the workspace root.",
					},
				},
				"required": []string{"source", "destination"},
			},
		},
	}
}

func (m *MovePathTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	src, dst, err := resolvePair(m.root, args)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	payload := map[string]any{"source": m.root.Rel(src), "destination": m.root.Rel(dst), "moved": true}
	data, _ := json.Marshal(payload)
	return string(data), nil
}

// CopyPathTool copies a single file within the workspace.
type CopyPathTool struct {
	root sandbox.Root
}

func NewCopyPathTool(root sandbox.Root) *CopyPathTool {
	return &CopyPathTool{root: root}
}

func (CopyPathTool) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        "copy_path",
			Description: "Copy a file to a new location. Source and destination must both stay within the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{
						"type":        "string",
						"description": "Existing file, relative to the workspace root.",
					},
					"destination": map[string]any{
						"type":        "string",
						"description": "Target path, relative to the workspace root.",
					},
				},
				"required": []string{"source", "destination"},
			},
		},
	}
}

func (c *CopyPathTool) Call(ctx context.Context, args map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	src, dst, err := resolvePair(c.root, args)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory; copy files individually", c.root.Rel(src))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", err
	}
	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	payload := map[string]any{"source": c.root.Rel(src), "destination": c.root.Rel(dst), "bytes": written}
	data, _ := json.Marshal(payload)
	return string(data), nil
}

func resolvePair(root sandbox.Root, args map[string]any) (string, string, error) {
	srcArg, ok := stringArg(args, "source")
	if !ok || strings.TrimSpace(srcArg) == "" {
		return "", "", errors.New("source is required")
	}
	dstArg, ok := stringArg(args, "destination")
	if !ok || strings.TrimSpace(dstArg) == "" {
		return "", "", errors.New("destination is required")
	}
	src, err := root.Resolve(srcArg)
	if err != nil {
		return "", "", err
	}
	dst, err := root.Resolve(dstArg)
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}
