package util

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	controlCharsRe = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidNameRe  = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRunRe      = regexp.MustCompile(`-+`)
)

// SanitizeFilename removes characters that cannot appear in file names on
// common filesystems.
func SanitizeFilename(filename string) string {
	safe := controlCharsRe.ReplaceAllString(filename, "")
	safe = invalidNameRe.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .-")
	if safe == "" {
		safe = "untitled"
	}
	return safe
}

// SanitizeFolderPath cleans a relative folder path, sanitizing each
// component individually.
func SanitizeFolderPath(folderPath string) string {
	if folderPath == "" {
		return ""
	}

	normalized := strings.ReplaceAll(folderPath, "\\", "/")
	clean := strings.Trim(filepath.Clean(normalized), "/")
	if clean == "" || clean == "." {
		return ""
	}

	var components []string
	for _, component := range strings.Split(clean, "/") {
		if component == "" || component == "." || component == ".." {
			continue
		}
		name := invalidNameRe.ReplaceAllString(controlCharsRe.ReplaceAllString(component, ""), "-")
		name = dashRunRe.ReplaceAllString(name, "-")
		name = strings.Trim(name, " .-")
		if name != "" {
			components = append(components, name)
		}
	}
	return strings.Join(components, string(os.PathSeparator))
}

// ValidateFolderPath checks that a destination folder is (or can be made)
// usable under the library base path. Relative paths are resolved against
// basePath; traversal outside the base is rejected.
func ValidateFolderPath(folderPath string, basePath string) error {
	if folderPath == "" {
		return fmt.Errorf("folder path cannot be empty")
	}
	if strings.Contains(folderPath, "..") {
		return fmt.Errorf("folder path contains invalid directory traversal")
	}

	fullPath := filepath.Clean(folderPath)
	if !filepath.IsAbs(fullPath) {
		fullPath = filepath.Join(basePath, fullPath)
	}

	info, err := os.Stat(fullPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", fullPath)
		}
		return checkWritePermission(fullPath)
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access path: %w", err)
	}

	// Path doesn't exist yet; make sure the parent can take it.
	parent := filepath.Dir(fullPath)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("cannot create parent directory: %w", err)
	}
	return checkWritePermission(parent)
}

// checkWritePermission probes a directory by creating a throwaway file.
func checkWritePermission(dirPath string) error {
	tempFile := filepath.Join(dirPath, ".hibiki_write_check")
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("no write permission for %s: %w", dirPath, err)
	}
	file.Close()
	os.Remove(tempFile)
	return nil
}
