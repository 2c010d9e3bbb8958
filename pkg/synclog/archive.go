package synclog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

const (
	archivePrefix     = "synclog-"
	archiveTimeLayout = "20060102-150405"
)

// ArchiveOptions controls log rotation.
type ArchiveOptions struct {
	// Dir receives the compressed archives.
	Dir string
	// ThresholdBytes is the log size that triggers rotation. Zero disables it.
	ThresholdBytes int64
	Format         Format
	// Keep is the number of newest archives retained. Zero keeps all.
	Keep int
}

// Rotate compresses the target log into opts.Dir and truncates it when it is
// at least opts.ThresholdBytes long. It returns the archive path, or "" when
// nothing was rotated.
func (l *Log) Rotate(opts ArchiveOptions) (string, error) {
	if opts.ThresholdBytes <= 0 || l.dryRun {
		return "", nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.targetPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.Size() < opts.ThresholdBytes {
		return "", nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}
	archivePath := l.nextArchivePath(opts.Dir, opts.Format)
	if err := compressFile(l.targetPath, archivePath, opts.Format); err != nil {
		return "", err
	}
	if err := os.Truncate(l.targetPath, 0); err != nil {
		return "", fmt.Errorf("failed to truncate action log: %w", err)
	}
	plog.Info("Archived action log", "archive", archivePath, "size", humanize.Bytes(uint64(info.Size())))

	if err := pruneArchives(opts.Dir, opts.Keep); err != nil {
		plog.Warn("Failed to prune old action log archives", "dir", opts.Dir, "error", err)
	}
	return archivePath, nil
}

func (l *Log) nextArchivePath(dir string, format Format) string {
	stamp := l.now().Format(archiveTimeLayout)
	base := filepath.Join(dir, archivePrefix+stamp+".txt"+format.Ext())
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s%s-%d.txt%s", archivePrefix, stamp, i, format.Ext()))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func compressFile(src, dst string, format Format) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "synclog-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bufWriter := bufio.NewWriter(tmp)
	var compressedWriter io.WriteCloser
	switch format {
	case Zstd:
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	case Gzip:
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.BestCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}

	if _, err := io.Copy(compressedWriter, in); err != nil {
		compressedWriter.Close()
		return fmt.Errorf("failed to compress action log: %w", err)
	}
	if err := compressedWriter.Close(); err != nil {
		return fmt.Errorf("compressed writer close failed: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

// ListArchives returns the archive paths in dir, newest first.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) {
			continue
		}
		if _, err := ParseFormat(strings.TrimPrefix(filepath.Ext(name), ".")); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		si, ci := archiveOrder(names[i])
		sj, cj := archiveOrder(names[j])
		if si != sj {
			return si > sj
		}
		return ci > cj
	})
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// archiveOrder splits an archive name into its timestamp and collision
// counter.
func archiveOrder(name string) (string, int) {
	key := strings.TrimPrefix(name, archivePrefix)
	key, _, _ = strings.Cut(key, ".")
	if len(key) <= len(archiveTimeLayout) {
		return key, 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(key[len(archiveTimeLayout):], "-"))
	if err != nil {
		return key, 0
	}
	return key[:len(archiveTimeLayout)], n
}

func pruneArchives(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	archives, err := ListArchives(dir)
	if err != nil {
		return err
	}
	for _, p := range archives[min(keep, len(archives)):] {
		if err := os.Remove(p); err != nil {
			return err
		}
		plog.Debug("Removed old action log archive", "path", p)
	}
	return nil
}

// OpenArchive returns a reader over the decompressed content of an archive.
func OpenArchive(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		f.Close()
		return nil, err
	}
	switch format {
	case Zstd:
		zr, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, err
		}
		return &archiveReader{Reader: zr, close: func() error { zr.Close(); return f.Close() }}, nil
	default:
		gr, err := pgzip.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, err
		}
		return &archiveReader{Reader: gr, close: func() error { gr.Close(); return f.Close() }}, nil
	}
}

type archiveReader struct {
	io.Reader
	close func() error
}

func (r *archiveReader) Close() error { return r.close() }
