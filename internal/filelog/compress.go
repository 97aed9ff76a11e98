package filelog

import (
	"bufio"
	"fmt"
	"os"

	"github.com/flowkeeper-org/fk-engine/internal/strategy"
)

// Compress rewrites the log as the minimal strategy list that recreates
// the current tree, keeping the original file as a timestamped backup.
// It only rewrites when the compacted list is actually shorter than the
// number of valid lines on disk; otherwise the file stays untouched.
// Returns the backup path, or "" when nothing changed.
func (fs *FileSource) Compress() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	compacted, err := fs.engine.Compressed()
	if err != nil {
		return "", err
	}
	valid, err := fs.countValidLines()
	if err != nil {
		return "", err
	}
	if len(compacted) >= valid {
		fs.log.Info("log already compact",
			"lines", valid, "compacted", len(compacted))
		return "", nil
	}

	backup, err := fs.backupAndRewrite(compacted)
	if err != nil {
		return backup, err
	}
	fs.log.Info("compressed the log",
		"before", valid, "after", len(compacted), "backup", backup)
	return backup, nil
}

// countValidLines counts parseable strategy lines currently on disk.
func (fs *FileSource) countValidLines() (int, error) {
	f, err := os.Open(fs.opts.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if _, err := fs.decodeLine(scanner.Text()); err != nil {
			if strategy.IsSkippable(err) {
				continue
			}
			return 0, fmt.Errorf("cannot compress a broken log, repair it first: %w", err)
		}
		n++
	}
	return n, scanner.Err()
}
