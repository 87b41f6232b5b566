// Package rescue implements the rescue-image downloader/cache (spec §1's
// "external collaborator"): a disk image used to boot a reserved rescue VM
// against another VM's disk when that VM's own bootloader is unusable.
// Grounded on the teacher's internal/image package — its OCI pull
// (pull.go) and digest-keyed cache (cache.go) are repurposed here from
// "unpack a multi-layer rootfs" to "extract the single layer that is the
// rescue disk image itself", since the spec's rescue artifact is one raw
// disk image, not a container rootfs.
package rescue

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/klauspost/compress/gzip"
)

// DefaultRef is the OCI artifact reference this manager pulls unless the
// caller overrides it.
const DefaultRef = "ghcr.io/aegisorg/vm-rescue:latest"

// Cache provides digest-keyed caching for the unpacked rescue disk image,
// mirroring the teacher's image.Cache layout: {cacheDir}/sha256_{digest}/disk.img.
type Cache struct {
	mu       sync.Mutex
	cacheDir string
	log      *slog.Logger
}

func NewCache(cacheDir string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{cacheDir: cacheDir, log: log}
}

// GetOrPull returns the path to the cached rescue disk image, pulling it
// from ref if not already cached by digest. offline, when true, fails
// rather than touching the network — the rescue command's --offline flag.
func (c *Cache) GetOrPull(ctx context.Context, ref string, offline, forceDownload bool) (diskPath string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ref == "" {
		ref = DefaultRef
	}

	if !forceDownload {
		if path, ok := c.findAnyCached(); ok {
			c.log.Debug("rescue: using cached image", "path", path)
			return path, nil
		}
	}

	if offline {
		return "", fmt.Errorf("rescue image not cached and --offline was given")
	}

	digest, img, err := pullSingleLayer(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("pull rescue image %s: %w", ref, err)
	}

	dir := filepath.Join(c.cacheDir, digestToDirName(digest))
	diskPath = filepath.Join(dir, "disk.img")
	if _, statErr := os.Stat(diskPath); statErr == nil && !forceDownload {
		return diskPath, nil
	}

	tmp := dir + ".tmp"
	os.RemoveAll(tmp)
	if err := os.MkdirAll(tmp, 0o700); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}
	if err := extractSingleLayer(img, filepath.Join(tmp, "disk.img")); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("extract rescue disk: %w", err)
	}
	os.RemoveAll(dir)
	if err := os.Rename(tmp, dir); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("rename cache dir: %w", err)
	}

	c.log.Info("rescue: cached image", "ref", ref, "digest", digest, "path", diskPath)
	return diskPath, nil
}

// findAnyCached returns the first cached rescue image found on disk,
// regardless of which ref produced it — there is only ever one rescue
// artifact in active use at a time, unlike the teacher's multi-ref index.
func (c *Cache) findAnyCached() (string, bool) {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		path := filepath.Join(c.cacheDir, e.Name(), "disk.img")
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func digestToDirName(digest string) string {
	return "sha256_" + strings.TrimPrefix(digest, "sha256:")
}

// pullSingleLayer resolves ref for the host's architecture and returns the
// image plus its digest, same shape as the teacher's image.Pull.
func pullSingleLayer(ctx context.Context, ref string) (digest string, img v1.Image, err error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return "", nil, fmt.Errorf("parse ref %q: %w", ref, err)
	}

	platform := &v1.Platform{OS: "linux", Architecture: runtime.GOARCH}
	desc, err := remote.Get(r, remote.WithContext(ctx), remote.WithPlatform(*platform))
	if err != nil {
		return "", nil, err
	}
	img, err = desc.Image()
	if err != nil {
		return "", nil, fmt.Errorf("get image: %w", err)
	}
	d, err := img.Digest()
	if err != nil {
		return "", nil, fmt.Errorf("get digest: %w", err)
	}
	return d.String(), img, nil
}

// extractSingleLayer reads the artifact's sole gzip+tar layer and writes
// the disk.img entry it contains to destPath, using klauspost/compress's
// gzip reader for the same decompression-speed reason as the teacher's
// unpack.go. The rescue artifact has exactly one layer and one regular
// file in it, so there is no rootfs tree to reconstruct.
func extractSingleLayer(img v1.Image, destPath string) error {
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("get layers: %w", err)
	}
	if len(layers) != 1 {
		return fmt.Errorf("expected exactly one layer, got %d", len(layers))
	}

	rc, err := layers[0].Compressed()
	if err != nil {
		return fmt.Errorf("get compressed layer: %w", err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("layer contains no regular file")
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write disk image: %w", err)
		}
		return out.Close()
	}
}
