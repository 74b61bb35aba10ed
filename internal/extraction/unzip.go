package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Local file header, empty archive and spanned archive markers
var zipSignatures = [][]byte{
	{0x50, 0x4B, 0x03, 0x04},
	{0x50, 0x4B, 0x05, 0x06},
	{0x50, 0x4B, 0x07, 0x08},
}

// CLIUnzip extracts product archives with the system unzip binary.
type CLIUnzip struct {
	BinaryPath string
}

// NewCLIUnzip locates unzip on PATH. Callers treat an error as "extraction unavailable".
func NewCLIUnzip() (*CLIUnzip, error) {
	path, err := exec.LookPath("unzip")
	if err != nil {
		return nil, fmt.Errorf("unzip binary not found in PATH: %w", err)
	}
	return &CLIUnzip{BinaryPath: path}, nil
}

func (u *CLIUnzip) Name() string {
	return "ZIP"
}

// CanExtract requires both a .zip name and a ZIP header; a truncated or HTML error page
// saved under a .zip name is rejected.
func (u *CLIUnzip) CanExtract(filePath string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(filePath), ".zip") {
		return false, nil
	}

	ok, err := hasSignature(filePath, zipSignatures)
	if err != nil {
		return false, fmt.Errorf("failed to verify ZIP signature: %w", err)
	}
	return ok, nil
}

// Extract unpacks archivePath into destDir, overwriting files left by an earlier attempt,
// and returns the paths of every extracted file.
func (u *CLIUnzip) Extract(ctx context.Context, archivePath string, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	// -o overwrite without prompting, -q quiet
	cmd := exec.CommandContext(ctx, u.BinaryPath, "-o", "-q", archivePath, "-d", destDir)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("unzip extraction failed: %w\nOutput: %s", err, string(output))
	}

	return listFiles(ctx, destDir)
}

func hasSignature(filePath string, signatures [][]byte) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, len(signatures[0]))
	if _, err := io.ReadFull(file, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}

	for _, sig := range signatures {
		if bytes.Equal(header, sig) {
			return true, nil
		}
	}
	return false, nil
}
