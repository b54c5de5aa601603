package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

var SupportedDocumentExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".html":     true,
	".htm":      true,
}

// IsSupportedDocument reports whether name has an ingestible extension.
func IsSupportedDocument(name string) bool {
	return SupportedDocumentExts[strings.ToLower(filepath.Ext(name))]
}

// ReadDocumentFile loads a text document; HTML is converted to markdown so
// its headings survive for header-aware chunking.
func ReadDocumentFile(path string) (string, error) {
	if !IsSupportedDocument(path) {
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return ReadDocument(f, path)
}

// ReadDocument reads r, treating it according to the extension of name.
func ReadDocument(r io.Reader, name string) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return HTMLToMarkdown(string(raw))
	default:
		return string(raw), nil
	}
}

func HTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert html: %w", err)
	}

	lines := strings.Split(markdown, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return strings.Join(result, "\n"), nil
}

// SaveWithTimestamp copies src into uploadDir as name_<unix>.ext and returns
// the destination path.
func SaveWithTimestamp(src io.Reader, name, uploadDir string) (string, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, base)
	destPath := filepath.Join(uploadDir, fmt.Sprintf("%s_%d%s", base, time.Now().Unix(), strings.ToLower(ext)))

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	return destPath, nil
}
