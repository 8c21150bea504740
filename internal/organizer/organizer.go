// Package organizer implements the Organizer / Writer (C9): it translates
// a run's RecognitionResults into the output directory tree and
// synchronizes deletions for dates dropped from the input.
package organizer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mirahollis/classphoto-organizer/internal/cluster"
	"github.com/mirahollis/classphoto-organizer/internal/pathsafe"
	"github.com/mirahollis/classphoto-organizer/internal/recognition"
)

const (
	unknownPhotosDir = "unknown_photos"
	noFacePhotosDir  = "no_face_photos"
	errorPhotosDir   = "error_photos"
)

// Entry is one classroom photo's recognition outcome plus the clustering
// labels for its residual faces, everything the Organizer needs to decide
// every destination it belongs in.
type Entry struct {
	Date    string
	RelPath string // relative to the classroom-photo root, e.g. "2026-01-02/p1.jpg"
	AbsPath string
	Result  recognition.Result
	// ResidualLabels has one entry per face in Result.Faces that is
	// residual, in the same order they appear in Result.Faces.
	ResidualLabels []cluster.Label
}

// Organizer writes the output tree for one run.
type Organizer struct {
	OutputRoot string
	Logger     *slog.Logger
}

func (o *Organizer) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Organize writes every destination copy for entries. A photo whose copy
// fails into every one of its intended destinations is redirected into
// error_photos/<date> instead, so it is never silently dropped from the
// output tree.
func (o *Organizer) Organize(entries []Entry) error {
	for _, e := range entries {
		destinations := o.destinationsFor(e)

		anyOK := false
		for _, destDir := range destinations {
			if err := o.copyInto(e, destDir); err != nil {
				o.logger().Warn("organizer: copy failed", "photo", e.RelPath, "dest", destDir, "error", err)
				continue
			}
			anyOK = true
		}

		if len(destinations) > 0 && !anyOK {
			errDir, err := pathsafe.JoinUnder(o.OutputRoot, errorPhotosDir, e.Date)
			if err != nil {
				o.logger().Warn("organizer: unsafe error destination path", "photo", e.RelPath, "error", err)
				continue
			}
			if err := o.copyInto(e, errDir); err != nil {
				o.logger().Error("organizer: copy to error_photos also failed", "photo", e.RelPath, "error", err)
			}
		}
	}
	return nil
}

// destinationsFor returns every output subdirectory (under OutputRoot)
// that e.AbsPath must be copied into, following the output layout rules.
func (o *Organizer) destinationsFor(e Entry) []string {
	switch e.Result.Status {
	case recognition.StatusNoFace:
		dir, err := pathsafe.JoinUnder(o.OutputRoot, noFacePhotosDir, e.Date)
		if err != nil {
			o.logger().Warn("organizer: unsafe destination path", "error", err)
			return nil
		}
		return []string{dir}
	case recognition.StatusError:
		dir, err := pathsafe.JoinUnder(o.OutputRoot, errorPhotosDir, e.Date)
		if err != nil {
			o.logger().Warn("organizer: unsafe destination path", "error", err)
			return nil
		}
		return []string{dir}
	}

	var dests []string
	for _, name := range e.Result.MatchedNames {
		dir, err := pathsafe.JoinUnder(o.OutputRoot, name, e.Date)
		if err != nil {
			o.logger().Warn("organizer: unsafe destination path", "person", name, "error", err)
			continue
		}
		dests = append(dests, dir)
	}

	labeled := map[string]bool{}
	unlabeled := false
	for _, lbl := range e.ResidualLabels {
		if lbl.Unlabeled {
			unlabeled = true
			continue
		}
		if lbl.Name != "" {
			labeled[lbl.Name] = true
		}
	}
	for name := range labeled {
		dir, err := pathsafe.JoinUnder(o.OutputRoot, unknownPhotosDir, name, e.Date)
		if err != nil {
			o.logger().Warn("organizer: unsafe destination path", "cluster", name, "error", err)
			continue
		}
		dests = append(dests, dir)
	}
	if unlabeled {
		dir, err := pathsafe.JoinUnder(o.OutputRoot, unknownPhotosDir, e.Date)
		if err != nil {
			o.logger().Warn("organizer: unsafe destination path", "error", err)
		} else {
			dests = append(dests, dir)
		}
	}

	return dests
}

// copyInto copies e.AbsPath into destDir, applying the collision policy:
// identical size at the existing name is treated as satisfied; otherwise
// an ordinal suffix is appended.
func (o *Organizer) copyInto(e Entry, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("organizer: creating %s: %w", destDir, err)
	}

	srcInfo, err := os.Stat(e.AbsPath)
	if err != nil {
		return fmt.Errorf("organizer: stat source %s: %w", e.AbsPath, err)
	}

	name := filepath.Base(e.RelPath)
	finalPath, err := resolveCollision(destDir, name, srcInfo.Size())
	if err != nil {
		return err
	}
	if finalPath == "" {
		return nil // already satisfied, idempotent
	}

	return atomicCopy(e.AbsPath, finalPath, srcInfo)
}

// resolveCollision returns the destination path to copy into, or "" if an
// identical-size file already occupies the canonical name (copy skipped).
func resolveCollision(destDir, name string, size int64) (string, error) {
	candidate := filepath.Join(destDir, name)
	info, err := os.Stat(candidate)
	if os.IsNotExist(err) {
		return candidate, nil
	}
	if err != nil {
		return "", fmt.Errorf("organizer: stat destination %s: %w", candidate, err)
	}
	if info.Size() == size {
		return "", nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n < 1000; n++ {
		candidate = filepath.Join(destDir, fmt.Sprintf("%s_%03d%s", stem, n, ext))
		info, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err == nil && info.Size() == size {
			return "", nil
		}
	}
	return "", fmt.Errorf("organizer: could not find a unique name for %s under %s", name, destDir)
}

// atomicCopy copies src into a temp file in dst's directory, preserves
// srcInfo's mtime, then renames into place — a failure mid-copy never
// leaves a partial file at dst because dst is never created directly.
func atomicCopy(src, dst string, srcInfo os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("organizer: opening source %s: %w", src, err)
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), ".tmp-"+uuid.NewString())
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("organizer: creating temp file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("organizer: copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("organizer: closing temp file: %w", err)
	}

	if err := os.Chtimes(tmp, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("organizer: preserving mtime: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("organizer: renaming into place: %w", err)
	}
	return nil
}

// DeleteDate removes every output subdirectory named date (per-Person,
// per-unknown-cluster, no-face, error), without removing the Person
// directories themselves.
func (o *Organizer) DeleteDate(date string) error {
	entries, err := os.ReadDir(o.OutputRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("organizer: reading output root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch e.Name() {
		case unknownPhotosDir:
			if err := o.deleteDateUnderUnknown(date); err != nil {
				return err
			}
		default:
			if err := removeDateDirIfExists(o.OutputRoot, e.Name(), date); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Organizer) deleteDateUnderUnknown(date string) error {
	if err := removeDateDirIfExists(o.OutputRoot, unknownPhotosDir, date); err != nil {
		return err
	}

	clusters, err := os.ReadDir(filepath.Join(o.OutputRoot, unknownPhotosDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("organizer: reading unknown_photos: %w", err)
	}
	for _, c := range clusters {
		if !c.IsDir() {
			continue
		}
		if err := removeDateDirIfExists(o.OutputRoot, filepath.Join(unknownPhotosDir, c.Name()), date); err != nil {
			return err
		}
	}
	return nil
}

func removeDateDirIfExists(outputRoot, parent, date string) error {
	dir, err := pathsafe.JoinUnder(outputRoot, parent, date)
	if err != nil {
		return nil // untrusted component escaped root; nothing to remove
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("organizer: removing %s: %w", dir, err)
	}
	return nil
}
