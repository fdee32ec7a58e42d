package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Fingerprint summarizes the raw directory by file name, size and modification
// time. It changes whenever a page is added, removed or re-fetched, without
// reading file contents.
func Fingerprint(dir string) (string, error) {
	names, err := listJSON(dir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", name, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
