package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// extensions the loader can decode
var imageExts = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lowercase file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has a decodable image extension
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// IsRemote reports whether source is an http(s) URL or a data URI
func IsRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:")
}

// OutputFilename names the passport photo generated from input. Remote
// sources are named "photo".
func OutputFilename(input, outputDir, suffix string) string {
	name := "photo"
	if !IsRemote(input) {
		base := filepath.Base(input)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	} else if u := strings.SplitN(input, "?", 2)[0]; strings.HasPrefix(strings.ToLower(u), "http") {
		base := u[strings.LastIndex(u, "/")+1:]
		if b := strings.TrimSuffix(base, filepath.Ext(base)); b != "" {
			name = b
		}
	}

	name = SanitizeFilename(name)
	if name == "" {
		name = "photo"
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s%s.png", name, suffix))
}

// DebugFilename returns the overlay path written next to output
func DebugFilename(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "_debug" + ext
}

// ListImageFiles recursively lists image files under dir in lexical order,
// skipping the skip directory (typically the output directory)
func ListImageFiles(dir, skip string) ([]string, error) {
	var files []string
	skipAbs := ""
	if skip != "" {
		skipAbs, _ = filepath.Abs(skip)
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipAbs != "" && path != dir {
				if abs, _ := filepath.Abs(path); abs == skipAbs {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename

	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	return strings.Trim(result, " .")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
