package downloads

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DirSaver writes downloaded files into a directory. Existing files are
// never overwritten; a " (n)" suffix is added instead.
type DirSaver struct {
	mu  sync.Mutex
	dir string
}

// NewDirSaver creates a saver writing into dir
func NewDirSaver(dir string) *DirSaver {
	return &DirSaver{dir: dir}
}

// SetDir changes the target directory
func (s *DirSaver) SetDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}

// Dir returns the target directory
func (s *DirSaver) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Save writes data under filename and returns the full path
func (s *DirSaver) Save(filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	path, err := uniquePath(s.dir, filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if err := ValidatePath(s.dir, path); err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Printf("[Downloads] Wrote %s (%d bytes)", path, len(data))
	return path, nil
}

func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	path := filepath.Join(dir, name)
	for n := 1; n < 1000; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return "", fmt.Errorf("too many files named %s in %s", name, dir)
}

// ValidatePath checks that filePath is inside dir
// This prevents path traversal attacks from malicious input
func ValidatePath(dir, filePath string) error {
	if dir == "" || filePath == "" {
		return fmt.Errorf("directory or file path is empty")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for directory: %w", err)
	}

	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for file: %w", err)
	}

	relPath, err := filepath.Rel(absDir, absFilePath)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}

	if relPath == "." || strings.HasPrefix(relPath, "..") {
		return fmt.Errorf("path traversal attempt detected: %s is outside %s", filePath, dir)
	}

	return nil
}
