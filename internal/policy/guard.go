// Package policy decides which commands may run and where.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	ErrCommandBlocked       = errors.New("command is blocked")
	ErrDirectoryNotAllowed  = errors.New("directory is not allowed")
	errEmptyDirectoryPolicy = errors.New("empty directory")
)

// DefaultBlockedCommands are refused unless configuration says otherwise.
var DefaultBlockedCommands = []string{
	"format", "mount", "umount", "mkfs", "fdisk", "dd",
	"sudo", "su", "passwd", "adduser", "useradd", "usermod", "groupadd",
}

// Rules is the configurable part of a Guard. An empty AllowedDirectories
// list allows every directory.
type Rules struct {
	BlockedCommands    []string
	AllowedDirectories []string
}

type compiled struct {
	rules   Rules
	blocked map[string]struct{}
	roots   []string
}

// Guard is safe for concurrent use; Update swaps rules atomically.
type Guard struct {
	current atomic.Pointer[compiled]
}

func NewGuard(rules Rules) *Guard {
	g := &Guard{}
	g.Update(rules)
	return g
}

func (g *Guard) Update(rules Rules) {
	c := &compiled{
		rules:   rules,
		blocked: make(map[string]struct{}, len(rules.BlockedCommands)),
	}
	for _, name := range rules.BlockedCommands {
		name = strings.TrimSpace(name)
		if name != "" {
			c.blocked[name] = struct{}{}
		}
	}
	for _, dir := range rules.AllowedDirectories {
		if root, err := canonical(dir); err == nil {
			c.roots = append(c.roots, root)
		}
	}
	g.current.Store(c)
}

func (g *Guard) Rules() Rules {
	return g.current.Load().rules
}

// separators split a command line into the simple commands it runs.
var separators = regexp.MustCompile("\\|\\||&&|[;|&\\n)]|\\$\\(|`")

var assignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// CheckCommand rejects a command line if any simple command in it starts
// with a blocked executable name.
func (g *Guard) CheckCommand(command string) error {
	c := g.current.Load()
	if len(c.blocked) == 0 {
		return nil
	}
	for _, name := range CommandNames(command) {
		if _, ok := c.blocked[name]; ok {
			return fmt.Errorf("%w: %s", ErrCommandBlocked, name)
		}
	}
	return nil
}

// CommandNames extracts the executable base name of every simple command in
// a shell command line, skipping leading variable assignments.
func CommandNames(command string) []string {
	var names []string
	for _, segment := range separators.Split(command, -1) {
		fields := strings.Fields(strings.TrimLeft(strings.TrimSpace(segment), "({! "))
		for len(fields) > 0 && assignment.MatchString(fields[0]) {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}
		names = append(names, filepath.Base(strings.Trim(fields[0], `"'`)))
	}
	return names
}

// CheckDirectory rejects a working directory outside every allowed root.
func (g *Guard) CheckDirectory(dir string) error {
	c := g.current.Load()
	if len(c.rules.AllowedDirectories) == 0 {
		return nil
	}
	path, err := canonical(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDirectoryNotAllowed, dir, err)
	}
	for _, root := range c.roots {
		if within(root, path) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDirectoryNotAllowed, dir)
}

func within(root, path string) bool {
	if root == path || root == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// canonical expands ~, makes the path absolute and resolves symlinks when
// the path exists.
func canonical(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", errEmptyDirectoryPolicy
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}
