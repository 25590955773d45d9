package artifacts

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohamed-ali0/main-bots-api/pkg/models"
)

// ZipJob streams the job directory as a zip archive. The archive is built
// lazily on request; nothing is cached on disk.
func (s *Store) ZipJob(job *models.Job, w io.Writer) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(job.FolderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip leftovers from interrupted atomic writes.
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(job.FolderPath, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		dst, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to zip job %s: %w", job.QueryID, err)
	}
	return zw.Close()
}
