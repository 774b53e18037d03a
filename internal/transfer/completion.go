package transfer

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/prxssh/rabbitsoul/internal/config"
)

// finishDownload implements download completion (spec.md §4.2):
// collision-rename the finished file into its destination directory via
// an atomic move, then run the afterfinish/afterfolder hooks.
func (m *Manager) finishDownload(t *Transfer, conn net.Conn, f *os.File) {
	_ = conn.Close()

	cfg := config.Load()
	incompletePath := f.Name()
	_ = f.Close()

	destDir := t.DestDir
	if destDir == "" {
		destDir = cfg.DownloadDir
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		m.log.Warn("download directory error", "user", t.User, "error", err)
		m.failDownloadTerminal(t, StatusDownloadDirError)
		return
	}

	finalPath := collisionFreePath(filepath.Join(destDir, basenameOf(t.VirtualFilename)))
	if err := atomicMove(incompletePath, finalPath); err != nil {
		m.log.Warn("download directory error", "user", t.User, "error", err)
		m.failDownloadTerminal(t, StatusDownloadDirError)
		return
	}
	t.RealFilename = finalPath

	m.mu.Lock()
	t.conn = nil
	t.file = nil
	t.abortCopy = nil
	m.forgetReqLocked(t)
	t.setStatus(StatusFinished)
	remaining := m.downloadsInDirLocked(destDir, t)
	m.saveQueueLocked()
	m.mu.Unlock()

	runHook(cfg.AfterFinish, finalPath)
	if len(remaining) == 0 {
		runHook(cfg.AfterFolder, destDir)
	}
}

func (m *Manager) failDownloadTerminal(t *Transfer, status Status) {
	m.mu.Lock()
	t.closeLocked()
	m.forgetReqLocked(t)
	t.setStatus(status)
	m.saveQueueLocked()
	m.mu.Unlock()
}

// downloadsInDirLocked returns every other non-terminal download whose
// destination is dir, used to decide whether the afterfolder hook fires
// (spec.md §4.2: "fires only when no remaining downloads share that
// path"). Must be called with m.mu held.
func (m *Manager) downloadsInDirLocked(dir string, exclude *Transfer) []*Transfer {
	out := make([]*Transfer, 0)
	for _, d := range m.downloads {
		if d == exclude || Terminal(d.Status) {
			continue
		}
		if d.DestDir == dir || (d.DestDir == "" && dir == config.Load().DownloadDir) {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) finishUpload(t *Transfer, conn net.Conn, f *os.File) {
	_ = conn.Close()
	_ = f.Close()

	m.mu.Lock()
	t.conn = nil
	t.file = nil
	t.abortCopy = nil
	m.forgetReqLocked(t)
	t.setStatus(StatusFinished)
	m.mu.Unlock()

	m.checkUploadQueue()
}

// collisionFreePath appends " (n)" before the extension until it finds
// a name that doesn't already exist, matching the teacher corpus's
// usual download-collision convention.
func collisionFreePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// atomicMove renames src to dst, falling back to copy+remove if they
// live on different filesystems (os.Rename's EXDEV).
func atomicMove(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := copyAll(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

// runHook runs an afterfinish/afterfolder shell command (spec.md §4.2),
// substituting the completed path in place of %s. A blank command is a
// no-op. The command is started and not waited for; an error starting
// it is ignored, never fatal to the transfer it finished.
func runHook(command, path string) {
	if command == "" {
		return
	}
	cmd := exec.Command("/bin/sh", "-c", strings.Replace(command, "%s", path, 1))
	_ = cmd.Start()
}
