package tooling

import (
	"encoding/json"
	"strings"
)

const maxPreviewLen = 120

// ArgPreview derives a short human-readable summary of a tool call's
// arguments for confirmation prompts and audit records. Shell calls
// show the command line, path tools show the path, and everything
// else falls back to compact JSON.
func ArgPreview(name string, args map[string]any) string {
	var preview string
	switch name {
	case "shell":
		if cmd, err := commandArg(args); err == nil {
			preview = strings.Join(cmd, " ")
		}
	case "move_path", "copy_path":
		src, _ := stringArg(args, "source")
		dst, _ := stringArg(args, "destination")
		if src != "" || dst != "" {
			preview = src + " -> " + dst
		}
	case "web_fetch":
		preview, _ = stringArg(args, "url")
	default:
		preview, _ = stringArg(args, "path")
	}
	if preview == "" {
		if data, err := json.Marshal(args); err == nil {
			preview = string(data)
		}
	}
	return truncatePreview(preview)
}

func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPreviewLen {
		return s
	}
	return string(runes[:maxPreviewLen]) + "..."
}
