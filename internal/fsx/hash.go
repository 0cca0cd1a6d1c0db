package fsx

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashResult is the outcome of hashing one file.
type HashResult struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
}

// HashFile computes the BLAKE3 digest of a regular file under the root.
func (r *Resolver) HashFile(clientPath string) (*HashResult, error) {
	abs, info, err := r.ResolveFile(clientPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, statErr(err, clientPath)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", clientPath, err)
	}
	return &HashResult{
		Path:      r.Rel(abs),
		Algorithm: "blake3",
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Size:      info.Size(),
	}, nil
}
