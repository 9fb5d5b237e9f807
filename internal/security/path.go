// Package security validates user-supplied file paths and remote URLs before
// buildfy reads from or writes to them.
package security

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrLeadingHyphen = errors.New("filename cannot start with hyphen")
	ErrEmptyPath     = errors.New("path is empty")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateSavePath checks a destination for generated code. Relative paths
// may not climb out of the working directory; absolute paths are accepted
// only when allowAbsolute is set, which the CLI does for explicit flags.
func ValidateSavePath(path string, allowAbsolute bool) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}

	if filepath.IsAbs(path) {
		if !allowAbsolute {
			return ErrAbsolutePath
		}
	} else {
		cleaned := filepath.Clean(path)
		if strings.HasPrefix(cleaned, "..") || strings.Contains(path, "..") {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(path)
	nameWithoutExt := strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))

	if windowsReservedNames[nameWithoutExt] {
		return ErrReservedName
	}

	if strings.HasPrefix(base, "-") {
		return ErrLeadingHyphen
	}

	return nil
}

// SanitizeFilename turns an arbitrary client-supplied name into a single safe
// path element.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := replacer.Replace(name)
	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	nameWithoutExt := strings.TrimSuffix(strings.ToLower(sanitized), filepath.Ext(sanitized))
	if windowsReservedNames[nameWithoutExt] {
		sanitized = sanitized + "_"
	}

	if sanitized == "" {
		sanitized = "file"
	}

	return sanitized
}
