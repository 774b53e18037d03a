// Package config implements the Config external collaborator spec.md §6
// enumerates: typed settings for the server session, transfer policy,
// logging, interests, and notifications, persisted as TOML. Field
// grouping and doc-comment density follow the teacher's
// internal/config.Config (grouped sections, one-line-to-paragraph
// comments depending on how non-obvious the field is); the atomic
// global accessor is ported from the teacher's pkg/config/global.go.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// LimitBy selects whether uploadlimit/downloadlimit apply per transfer
// or to the sum of all active transfers (spec.md §6 "limitby").
type LimitBy string

const (
	LimitByTransfer LimitBy = "transfer"
	LimitByTotal    LimitBy = "total"
)

// Config mirrors the enumerated keys in spec.md §6, grouped the same
// way the keys are grouped there.
type Config struct {
	// ========== Server ==========

	Login             string
	Passw             string
	Firewalled        bool
	Banlist           []string
	Userlist          []string
	IPIgnoreList      []string
	PrivateChatrooms  bool

	// ========== Transfers ==========

	// UseLimit gates whether UploadLimit/DownloadLimit are enforced at
	// all; disabling it leaves rate.Limiter unconfigured (unlimited).
	UseLimit       bool
	UploadLimit    int64 // bytes/sec
	LimitBy        LimitBy
	DownloadLimit  int64 // bytes/sec

	GeoBlock   bool
	GeoPanic   bool
	GeoBlockCC []string

	UseCustomBan bool
	CustomBan    string

	EnableBuddyShares bool
	FriendsOnly       bool
	RemoteDownloads   bool
	UploadAllowed     int // 0=nobody,1=everyone,2=buddies,3=trusted buddies

	SharedFiles         int
	SharedFilesStreams  int
	BSharedFiles        int
	BSharedFilesStreams int

	UploadsInSubdirs bool
	UploadDir        string
	DownloadDir      string
	IncompleteDir    string

	DownloadRegexp string
	EnableFilters  bool

	UseUpSlots      bool
	UploadSlots     int
	UploadBandwidth int64 // bytes/sec, global cap

	QueueLimit int64 // bytes, per user
	FileLimit  int   // files, per user

	FriendsNoLimits bool
	FifoQueue       bool
	PreferFriends   bool
	Prioritize      bool
	ReverseOrder    bool

	// Lock takes an exclusive non-blocking advisory lock on the
	// incomplete file while writing (spec.md §4.2 "optional locking").
	Lock bool

	AutoclearDownloads bool
	AutoclearUploads   bool

	// AfterFinish/AfterFolder are shell commands run on completion of a
	// file/folder respectively (spec.md §4.2 "afterfinish hooks").
	AfterFinish string
	AfterFolder string

	// ========== Logging ==========

	DebugModes       []string
	DebugFileOutput  bool
	DebugLogsDir     string
	LogTimestamp     string
	TransfersLog     bool
	TransfersLogsDir string

	// ========== Interests ==========

	Likes    []string
	Dislikes []string

	// ========== Notifications ==========

	NotificationPopupFile   bool
	NotificationPopupFolder bool
}

// Default returns the baseline configuration a fresh install starts
// from. Matches the teacher's defaultConfig shape: compute platform
// paths, fill every field explicitly.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	downloadDir := defaultDownloadDir(home)

	return Config{
		Firewalled:       true,
		PrivateChatrooms: false,

		UseLimit:      false,
		UploadLimit:   0,
		LimitBy:       LimitByTransfer,
		DownloadLimit: 0,

		GeoBlock:   false,
		GeoPanic:   false,
		GeoBlockCC: nil,

		EnableBuddyShares: false,
		FriendsOnly:       false,
		RemoteDownloads:   true,
		UploadAllowed:     1,

		UploadsInSubdirs: true,
		UploadDir:        filepath.Join(home, "rabbitsoul", "uploads"),
		DownloadDir:      downloadDir,
		IncompleteDir:    "",

		EnableFilters: false,

		UseUpSlots:      false,
		UploadSlots:     2,
		UploadBandwidth: 0,

		QueueLimit: 100 << 20, // 100 MiB, matches spec.md §8 scenario 2
		FileLimit:  0,

		FriendsNoLimits: false,
		FifoQueue:       true,
		PreferFriends:   false,

		AutoclearDownloads: false,
		AutoclearUploads:   false,

		DebugModes:       nil,
		LogTimestamp:     "%H:%M:%S",
		TransfersLog:     false,
		TransfersLogsDir: filepath.Join(home, "rabbitsoul", "logs", "transfers"),
		DebugLogsDir:     filepath.Join(home, "rabbitsoul", "logs", "debug"),
	}
}

func defaultDownloadDir(home string) string {
	switch runtime.GOOS {
	case "windows", "darwin":
		return filepath.Join(home, "Downloads", "rabbitsoul")
	default:
		return filepath.Join(home, ".local", "share", "rabbitsoul", "downloads")
	}
}

// IncompleteDirFor resolves spec.md §6's "incompleteDir (or
// downloadDir/<path> if unset)" rule for a given destination path.
func (c Config) IncompleteDirFor(path string) string {
	if c.IncompleteDir != "" {
		return c.IncompleteDir
	}
	return filepath.Join(c.DownloadDir, path)
}

// WatchdogInterval is the 60s download-queue rescan cadence spec.md §4.2
// / §5 fixes; not user-configurable, kept here so callers don't sprinkle
// the literal duration around.
const WatchdogInterval = 60 * time.Second
