package retrain

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/cespare/xxhash/v2"
)

const tailBytes = 4096

// Fingerprint identifies the outcome log's current content cheaply: size,
// modification time and a hash of the last few KB. An absent file has the
// empty fingerprint.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	off := info.Size() - tailBytes
	if off < 0 {
		off = 0
	}
	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, off, info.Size()-off)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%d:%d:%016x", info.Size(), info.ModTime().UnixNano(), h.Sum64()), nil
}

// CountEntries counts non-blank lines.
func CountEntries(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("scan %s: %w", path, err)
	}
	return n, nil
}
