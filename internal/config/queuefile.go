package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// QueueStatus is the on-disk status a persisted download entry loads
// back as (spec.md §6): Aborted/Paused collapse to Paused, Filtered
// stays Filtered, anything else becomes Getting status so it gets
// re-resolved by the watchdog.
type QueueStatus string

const (
	QueueStatusPaused       QueueStatus = "Paused"
	QueueStatusFiltered     QueueStatus = "Filtered"
	QueueStatusGettingStatus QueueStatus = "Getting status"
)

// QueueEntry is one serialized row of the persisted download queue
// (spec.md §6 filesystem layout).
type QueueEntry struct {
	User          string
	Filename      string
	Path          string
	Status        QueueStatus
	Size          uint64
	CurrentBytes  uint64
	Bitrate       uint32
	Length        uint32
}

type queueFile struct {
	Entries []QueueEntry `toml:"entry"`
}

// LoadQueueFile reads the persisted download queue. A missing file is
// not an error; it yields an empty queue.
func LoadQueueFile(path string) ([]QueueEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading queue file %s: %w", path, err)
	}

	var qf queueFile
	if _, err := toml.Decode(string(data), &qf); err != nil {
		return nil, fmt.Errorf("config: decoding queue file %s: %w", path, err)
	}

	return qf.Entries, nil
}

// SaveQueueFile persists the download queue with each entry's status
// written as given; the spec.md §6 status remap is not applied here but
// on load, via RemapOnLoad.
func SaveQueueFile(path string, entries []QueueEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating parent dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config: opening queue file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(queueFile{Entries: entries}); err != nil {
		return fmt.Errorf("config: encoding queue file: %w", err)
	}

	return nil
}

// RemapOnLoad applies spec.md §6's load-time status remap: Aborted or
// Paused load back as Paused, Filtered stays Filtered, anything else
// becomes Getting status.
func RemapOnLoad(saved string) QueueStatus {
	switch saved {
	case "Aborted", "Paused":
		return QueueStatusPaused
	case "Filtered":
		return QueueStatusFiltered
	default:
		return QueueStatusGettingStatus
	}
}
