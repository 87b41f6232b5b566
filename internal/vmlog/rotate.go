package vmlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Rotate gzip-compresses path into a sibling file stamped with the current
// time (<path>.<stamp>.gz) with klauspost/compress's gzip — the
// same decompression library the teacher already depends on directly for
// OCI image layers, now exercised by the logging stack too — and then
// removes path, so the next vmlog.Get recreates it.
func Rotate(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	stamped := fmt.Sprintf("%s.%s.gz", path, time.Now().UTC().Format("20060102T150405Z"))

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(stamped, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
