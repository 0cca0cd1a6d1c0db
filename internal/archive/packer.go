package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

// Packer streams a directory tree as a zip archive without ever
// holding more than the flush threshold of archive bytes in memory.
// A Packer is cheap to construct per request; Stream may be called
// once.
type Packer struct {
	root      string
	exclude   []string
	threshold int
	log       *slog.Logger
}

// New creates a Packer for the directory at root. Exclusion patterns
// follow path.Match syntax and are applied to slash-separated paths
// relative to root; a matched directory is not descended into.
func New(root string, exclude []string, flushThreshold int) *Packer {
	if flushThreshold <= 0 {
		flushThreshold = 4 << 20
	}
	return &Packer{
		root:      root,
		exclude:   exclude,
		threshold: flushThreshold,
		log:       slog.Default().With("component", "archive"),
	}
}

// Stream walks the tree depth-first and writes the archive to w,
// flushing the internal buffer whenever it grows past the threshold.
// An unreadable root fails before any byte is written; an unreadable
// file inside the tree is skipped and the walk continues. The produced
// stream is single-consumption and strictly ordered.
func (p *Packer) Stream(w io.Writer) error {
	if _, err := os.ReadDir(p.root); err != nil {
		return fmt.Errorf("archive root: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	walkErr := filepath.WalkDir(p.root, func(entryPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if entryPath == p.root {
				return err
			}
			p.log.Warn("skipping unreadable entry", "path", entryPath, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entryPath == p.root {
			return nil
		}

		rel, err := filepath.Rel(p.root, entryPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if p.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err := p.addEntry(zw, entryPath, rel, d); err != nil {
			return err
		}

		if buf.Len() > p.threshold {
			if _, err := w.Write(buf.Bytes()); err != nil {
				return fmt.Errorf("flush archive: %w", err)
			}
			buf.Reset()
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if buf.Len() > 0 {
		if _, err := w.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("flush archive: %w", err)
		}
	}
	return nil
}

// excluded matches rel (and each of its path segments' suffix paths)
// against the exclusion patterns, so "*.log" excludes nested logs and
// "node_modules" prunes the tree at any depth.
func (p *Packer) excluded(rel string) bool {
	for _, pattern := range p.exclude {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

func (p *Packer) addEntry(zw *zip.Writer, entryPath, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		p.log.Warn("skipping entry without metadata", "path", entryPath, "error", err)
		return nil
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = rel
	if d.IsDir() {
		header.Name += "/"
		_, err := zw.CreateHeader(header)
		return err
	}
	if !info.Mode().IsRegular() {
		// Symlinks and devices do not belong in a download archive.
		return nil
	}
	header.Method = zip.Deflate

	src, err := os.Open(entryPath)
	if err != nil {
		p.log.Warn("skipping unreadable file", "path", entryPath, "error", err)
		return nil
	}
	defer src.Close()

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
