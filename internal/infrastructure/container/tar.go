package container

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// extractFirstFile copies the first regular file in a tar stream to dst.
func extractFirstFile(r io.Reader, dst io.Writer) (int64, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("archive contains no regular file")
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		n, err := io.Copy(dst, tr)
		if err != nil {
			return n, fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
		return n, nil
	}
}

// tarFile writes a single-file tar archive of hostPath named fileName to w.
func tarFile(w io.Writer, fileName, hostPath string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	hdr := &tar.Header{
		Name:     fileName,
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write tar body: %w", err)
	}
	return tw.Close()
}
