package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Backup copies the recording's rendered media into a sibling backup
// directory. Non-critical: a failed copy never blocks the pipeline.
type Backup struct{}

// BackupDoc is the backup stage's primary document.
type BackupDoc struct {
	Dir         string   `json:"dir"`
	FilesCopied int      `json:"files_copied"`
	BytesCopied int64    `json:"bytes_copied"`
	Skipped     []string `json:"skipped,omitempty"`
}

func (s *Backup) Name() string     { return "backup" }
func (s *Backup) Inputs() []string { return []string{"qa"} }
func (s *Backup) Output() string   { return "backup" }

func (s *Backup) Run(ctx context.Context, env *Env) (*Outcome, error) {
	mediaDir := env.Store.MediaDir(env.Recording.ID)
	backupDir := filepath.Join(filepath.Dir(mediaDir), "backup")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return Soft(fmt.Sprintf("cannot create backup dir: %v", err), BackupDoc{Dir: backupDir}), nil
	}

	doc := BackupDoc{Dir: backupDir}
	var failures []string
	err := filepath.WalkDir(mediaDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(mediaDir, path)
		if err != nil {
			return err
		}
		// Intermediate channel splits are reproducible from the merge;
		// only keep container files.
		if strings.HasSuffix(rel, ".wav") {
			doc.Skipped = append(doc.Skipped, rel)
			return nil
		}
		n, err := copyFile(path, filepath.Join(backupDir, rel))
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", rel, err))
			return nil
		}
		doc.FilesCopied++
		doc.BytesCopied += n
		return nil
	})
	if err != nil {
		return Soft(fmt.Sprintf("backup walk aborted: %v", err), doc), nil
	}
	if len(failures) > 0 {
		return Soft(strings.Join(failures, "; "), doc), nil
	}
	return Success(doc), nil
}

func copyFile(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, os.Rename(tmp, dst)
}
