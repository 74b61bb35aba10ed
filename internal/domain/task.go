package domain

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// FinishDir is the subdirectory of the output folder completed archives land in.
	FinishDir = "Finish"

	PartSuffix = ".part"
)

var badChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// DownloadTask is one product bound to its on-disk paths for a single attempt.
type DownloadTask struct {
	Product   Product
	FileName  string
	PartPath  string
	FinalPath string
}

// NewDownloadTask places the product archive at <outDir>/Finish/<Name>.zip.
func NewDownloadTask(p Product, outDir string) *DownloadTask {
	name := SanitizeFileName(p.Name)
	if name == "" {
		name = SanitizeFileName(p.ID)
	}

	fileName := name + ".zip"
	final := filepath.Join(outDir, FinishDir, fileName)

	return &DownloadTask{
		Product:   p,
		FileName:  fileName,
		PartPath:  final + PartSuffix,
		FinalPath: final,
	}
}

// SanitizeFileName removes characters that are illegal on Windows/Linux/macOS.
func SanitizeFileName(name string) string {
	res := badChars.ReplaceAllString(name, "_")
	res = strings.TrimSpace(res)

	// A name of only dots would escape the output directory
	if strings.Trim(res, ".") == "" {
		return ""
	}
	return res
}
