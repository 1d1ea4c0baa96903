// internal/attach/attach.go
// Package attach loads local files and directory listings and folds them
// into an outgoing prompt.
package attach

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxFileSize is the largest file that can be attached (1MB)
const MaxFileSize = 1024 * 1024

// maxDepth bounds directory listings
const maxDepth = 3

var ErrSensitivePath = errors.New("refusing to attach sensitive path")

// Attachment is one loaded file or directory listing
type Attachment struct {
	Path    string
	Content string
	IsDir   bool
}

// Load reads a file, or lists a directory tree
func Load(path string) (Attachment, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("resolve path: %w", err)
	}
	if isSensitivePath(abs) {
		return Attachment{}, fmt.Errorf("%w: %s", ErrSensitivePath, abs)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Attachment{}, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		tree, err := listDir(abs)
		if err != nil {
			return Attachment{}, err
		}
		return Attachment{Path: abs, Content: tree, IsDir: true}, nil
	}

	if info.Size() > MaxFileSize {
		return Attachment{}, fmt.Errorf("file too large (%d bytes, max %d)", info.Size(), MaxFileSize)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return Attachment{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Attachment{Path: abs, Content: string(content)}, nil
}

// Compose appends attachments to a prompt as fenced blocks
func Compose(prompt string, atts []Attachment) string {
	if len(atts) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(prompt, "\n"))
	for _, a := range atts {
		label := "File"
		lang := language(a.Path)
		if a.IsDir {
			label, lang = "Directory", ""
		}
		fence := "```"
		for strings.Contains(a.Content, fence) {
			fence += "`"
		}
		fmt.Fprintf(&sb, "\n\n%s `%s`:\n%s%s\n%s", label, a.Path, fence, lang, strings.TrimRight(a.Content, "\n"))
		sb.WriteString("\n" + fence)
	}
	return sb.String()
}

// listDir renders an indented tree in lexical order, skipping hidden and
// build output directories
func listDir(root string) (string, error) {
	var lines []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		depth := strings.Count(rel, string(filepath.Separator))
		name := d.Name()

		if strings.HasPrefix(name, ".") || (d.IsDir() && isExcludedDir(name)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			name += "/"
		}
		lines = append(lines, strings.Repeat("  ", depth)+name)
		if d.IsDir() && depth+1 >= maxDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", root, err)
	}
	return strings.Join(lines, "\n"), nil
}

func language(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yml":
		return "yaml"
	case "sh", "bash", "zsh":
		return "bash"
	case "go", "py", "js", "ts", "tsx", "jsx", "rs", "c", "h", "cpp", "java", "rb", "php",
		"yaml", "json", "toml", "sql", "lua", "swift", "kt", "md":
		return ext
	default:
		return ""
	}
}

func isExcludedDir(name string) bool {
	switch name {
	case "node_modules", "vendor", "__pycache__", "target", "build", "dist", "bin", "obj", "venv":
		return true
	}
	return false
}

var sensitive = []string{
	"/.ssh/", "/.gnupg/", "/.aws/", "/.config/gcloud",
	"/etc/shadow", "/.netrc", "/.npmrc", "/.pypirc",
	"/.env", ".pem", ".key", "id_rsa", "id_ed25519", "id_ecdsa",
}

// isSensitivePath reports paths that must never leave the machine
func isSensitivePath(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Names returns the base names of attachments for display
func Names(atts []Attachment) string {
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = filepath.Base(a.Path)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
