package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vk/scopegrid/internal/waveform"
)

var recordPrefix = []byte("hist/")

// ArchiveConfig configures the on-disk archive.
type ArchiveConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// Logger receives Badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// Archived is the persisted metadata of a history record. Sample data is
// not archived.
type Archived struct {
	ID          uuid.UUID          `json:"id"`
	Key         waveform.Timestamp `json:"key"`
	Label       string             `json:"label,omitempty"`
	Pinned      bool               `json:"pinned,omitempty"`
	Added       time.Time          `json:"added"`
	Instruments []string           `json:"instruments"`
	Samples     int                `json:"samples"`
}

// Archive is a Badger-backed index of history records.
type Archive struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenArchive opens or creates an archive.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("archive path is required for a persistent archive")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func recordKey(ts waveform.Timestamp) []byte {
	key := make([]byte, len(recordPrefix)+16)
	n := copy(key, recordPrefix)
	// Offset by the sign bit so negative values still sort before positive ones.
	binary.BigEndian.PutUint64(key[n:], uint64(ts.Seconds)^(1<<63))
	binary.BigEndian.PutUint64(key[n+8:], uint64(ts.Femtos)^(1<<63))
	return key
}

func archivedOf(r Record) Archived {
	a := Archived{
		ID:          r.ID,
		Key:         r.Key,
		Label:       r.Label,
		Pinned:      r.Pinned,
		Added:       r.Added,
		Instruments: r.InstrumentNames(),
	}
	for _, channels := range r.Instruments {
		for _, streams := range channels {
			for _, w := range streams {
				a.Samples += w.Len()
			}
		}
	}
	return a
}

// Put stores or replaces a record's metadata.
func (a *Archive) Put(r Record) error {
	data, err := json.Marshal(archivedOf(r))
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r.Key), data)
	})
}

// Delete drops a record. Deleting a missing record is not an error.
func (a *Archive) Delete(ts waveform.Timestamp) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(ts))
	})
}

// List returns archived records, newest first. limit <= 0 returns all.
func (a *Archive) List(limit int) ([]Archived, error) {
	var out []Archived
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last possible key in the prefix.
		seek := append(append([]byte{}, recordPrefix...), bytes.Repeat([]byte{0xff}, 17)...)
		for it.Seek(seek); it.ValidForPrefix(recordPrefix); it.Next() {
			var rec Archived
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode history record: %w", err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Close flushes and closes the archive.
func (a *Archive) Close() error {
	return a.db.Close()
}
