package build

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"
)

// FileState represents source file metadata used for change detection.
type FileState struct {
	Path    string
	Size    int64
	ModTime time.Time
	SHA256  string
}

// HashFile computes SHA-256 for a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Snapshot records the current state of path.
func Snapshot(path string) (FileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileState{}, err
	}

	sum, err := HashFile(path)
	if err != nil {
		return FileState{}, err
	}

	return FileState{Path: path, Size: info.Size(), ModTime: info.ModTime().UTC(), SHA256: sum}, nil
}

// Changed reports whether curr holds different contents than prev. A new
// modification time alone is not a change.
func (prev FileState) Changed(curr FileState) bool {
	return prev.Path != curr.Path || prev.Size != curr.Size || prev.SHA256 != curr.SHA256
}
