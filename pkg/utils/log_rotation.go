package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	// Filename is the file to write logs to
	Filename string `yaml:"filename"`

	// MaxSize is the size in megabytes that triggers a rotation (0 = never)
	MaxSize int64 `yaml:"max_size"`

	// MaxBackups is the number of rotated files to keep (0 = keep all)
	MaxBackups int `yaml:"max_backups"`

	// Compress gzips rotated files
	Compress bool `yaml:"compress"`
}

// LogRotator is an io.Writer appending to a file that is rotated by size.
type LogRotator struct {
	mu sync.Mutex

	config RotationConfig
	file   *os.File
	size   int64
}

// NewLogRotator opens (or creates) the log file described by config.
func NewLogRotator(config *RotationConfig) (*LogRotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	rotator := &LogRotator{config: *config}
	if err := rotator.openFile(); err != nil {
		return nil, err
	}

	return rotator, nil
}

// Write implements io.Writer
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return 0, os.ErrClosed
	}

	if lr.config.MaxSize > 0 && lr.size+int64(len(p)) >= lr.config.MaxSize*1024*1024 {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

// Close closes the log file
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

// Sync flushes the log file
func (lr *LogRotator) Sync() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file != nil {
		return lr.file.Sync()
	}
	return nil
}

// Rotate forces an immediate rotation
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		lr.file = nil
	}

	backupName := lr.backupFilename(time.Now().UTC())
	if err := os.Rename(lr.config.Filename, backupName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	// Compression and cleanup failures must not stop logging.
	if lr.config.Compress {
		if err := compressFile(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to compress log file %s: %v\n", backupName, err)
		}
	}
	if err := lr.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to cleanup old backups: %v\n", err)
	}

	return lr.openFile()
}

func (lr *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	lr.file = file
	lr.size = info.Size()
	return nil
}

// backupFilename returns <dir>/<prefix>-<timestamp><ext>.
func (lr *LogRotator) backupFilename(timestamp time.Time) string {
	dir, prefix, ext := lr.nameParts()
	name := fmt.Sprintf("%s-%s%s", prefix, timestamp.Format("2006-01-02T15-04-05.000"), ext)
	return filepath.Join(dir, name)
}

func (lr *LogRotator) nameParts() (dir, prefix, ext string) {
	dir = filepath.Dir(lr.config.Filename)
	base := filepath.Base(lr.config.Filename)
	ext = filepath.Ext(base)
	return dir, strings.TrimSuffix(base, ext), ext
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}

func (lr *LogRotator) cleanupOldBackups() error {
	if lr.config.MaxBackups <= 0 {
		return nil
	}

	backups, err := lr.backupFiles()
	if err != nil {
		return err
	}
	if len(backups) <= lr.config.MaxBackups {
		return nil
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().Before(backups[j].ModTime())
	})

	dir, _, _ := lr.nameParts()
	for _, backup := range backups[:len(backups)-lr.config.MaxBackups] {
		fullPath := filepath.Join(dir, backup.Name())
		if err := os.Remove(fullPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to remove old backup %s: %v\n", fullPath, err)
		}
	}

	return nil
}

func (lr *LogRotator) backupFiles() ([]os.FileInfo, error) {
	dir, prefix, ext := lr.nameParts()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == filepath.Base(lr.config.Filename) || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if !strings.HasSuffix(name, ext) && !strings.HasSuffix(name, ext+".gz") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			backups = append(backups, info)
		}
	}

	return backups, nil
}
