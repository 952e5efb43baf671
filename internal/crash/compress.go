package crash

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Compress gzips path into path.gz and removes the original once the
// compressed copy is complete.
func Compress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	target := path + ".gz"
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	in.Close()
	if err := os.Remove(path); err != nil {
		return target, fmt.Errorf("remove %s: %w", path, err)
	}
	return target, nil
}
