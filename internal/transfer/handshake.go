package transfer

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prxssh/rabbitsoul/internal/config"
)

// incompleteCandidates returns the three filenames spec.md §4.2's
// file-request handshake checks, in the precedence order a resume
// should look them up: a manually-renamed marker first, the plain
// marker second, and the hashed name last (also the name a fresh
// download is created under, since it can't collide across users
// downloading files that happen to share a basename).
func incompleteCandidates(virtualFilename, user string) [3]string {
	base := basenameOf(virtualFilename)
	sum := md5.Sum([]byte(virtualFilename + user))
	hashed := hex.EncodeToString(sum[:])
	return [3]string{
		"INCOMPLETE~" + base,
		"INCOMPLETE" + base,
		"INCOMPLETE" + hashed + base,
	}
}

func basenameOf(virtual string) string {
	v := strings.ReplaceAll(virtual, `\`, "/")
	return filepath.Base(v)
}

// openIncompleteFile implements the resume-path lookup: the first
// candidate that already exists on disk is reused (so a download
// interrupted under an older naming scheme still resumes); otherwise
// the hashed name is created fresh. Returns the open file positioned at
// the end (the resume offset) and that offset.
func openIncompleteFile(incompleteDir, virtualFilename, user string) (*os.File, uint64, error) {
	if err := os.MkdirAll(incompleteDir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("transfer: creating incomplete dir: %w", err)
	}

	candidates := incompleteCandidates(virtualFilename, user)
	path := filepath.Join(incompleteDir, candidates[2])
	for _, c := range candidates {
		p := filepath.Join(incompleteDir, c)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			path = p
			break
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: opening incomplete file: %w", err)
	}

	cfg := config.Load()
	if cfg.Lock {
		if err := lockFile(f); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("transfer: locking incomplete file: %w", err)
		}
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("transfer: seeking incomplete file: %w", err)
	}

	return f, uint64(offset), nil
}

// runFileHandshake drives the raw, unframed kind-F socket (spec.md
// §4.2's "hand the file to NetIO for receive/send", generalized here to
// the socket NetIO handed directly to us): a 4-byte little-endian token
// matching the negotiated Req, written by whichever side dialed, then an
// 8-byte little-endian resume offset, always written by the downloader,
// after which the file bytes flow one-directionally with no further
// framing.
func (m *Manager) runFileHandshake(t *Transfer, conn net.Conn, weDialed bool) {
	log := m.log.With("user", t.User, "file", t.VirtualFilename)

	if weDialed {
		if err := writeU32(conn, t.Req); err != nil {
			log.Warn("writing transfer token failed", "error", err)
			m.teardownFailed(t, conn, StatusCannotConnect)
			return
		}
	} else {
		token, err := readU32(conn)
		if err != nil {
			log.Warn("reading transfer token failed", "error", err)
			m.teardownFailed(t, conn, StatusCannotConnect)
			return
		}
		m.mu.Lock()
		got, ok := m.byReq[token]
		m.mu.Unlock()
		if !ok || got != t {
			log.Warn("transfer token mismatch", "token", token)
			_ = conn.Close()
			return
		}
	}

	if t.Direction == Download {
		m.runDownloadTransfer(t, conn, weDialed)
		return
	}
	m.runUploadTransfer(t, conn, weDialed)
}

// runDownloadTransfer: we receive bytes. Unlike the token, the offset is
// written by us whichever side dialed, and read by the uploader.
func (m *Manager) runDownloadTransfer(t *Transfer, conn net.Conn, weDialed bool) {
	cfg := config.Load()
	incompleteDir := cfg.IncompleteDirFor(t.DestDir)

	f, offset, err := openIncompleteFile(incompleteDir, t.VirtualFilename, t.User)
	if err != nil {
		m.log.Warn("local file error", "user", t.User, "error", err)
		m.teardownFailed(t, conn, StatusLocalFileError)
		return
	}

	// Whichever side dialed, the downloader always sends the resume
	// offset: it's the only side that knows it, since the on-disk
	// incomplete file lives in our download directory.
	if err := writeU64(conn, offset); err != nil {
		f.Close()
		m.teardownFailed(t, conn, StatusCannotConnect)
		return
	}

	m.mu.Lock()
	t.conn = conn
	t.file = f
	t.Offset = offset
	t.CurrentBytes = offset
	t.LastTickBytes = offset
	t.LastTickTime = time.Now()
	t.setStatus(StatusTransferring)
	var aborted atomic.Bool
	t.abortCopy = func() { aborted.Store(true) }
	m.mu.Unlock()

	go m.copyDownload(t, conn, f, &aborted)
}

func (m *Manager) runUploadTransfer(t *Transfer, conn net.Conn, weDialed bool) {
	offset, err := readU64(conn)
	if err != nil {
		m.teardownFailed(t, conn, StatusCannotConnect)
		return
	}

	f, err := os.Open(t.RealFilename)
	if err != nil {
		m.teardownFailed(t, conn, StatusLocalFileError)
		return
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		m.teardownFailed(t, conn, StatusLocalFileError)
		return
	}

	m.mu.Lock()
	t.conn = conn
	t.file = f
	t.Offset = offset
	t.CurrentBytes = offset
	t.LastTickBytes = offset
	t.LastTickTime = time.Now()
	t.setStatus(StatusTransferring)
	var aborted atomic.Bool
	t.abortCopy = func() { aborted.Store(true) }
	m.mu.Unlock()

	go m.copyUpload(t, conn, f, &aborted)
}

func (m *Manager) teardownFailed(t *Transfer, conn net.Conn, status Status) {
	_ = conn.Close()
	m.mu.Lock()
	m.failLocked(t, status)
	m.mu.Unlock()
	if t.Direction == Upload {
		m.checkUploadQueue()
	}
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
