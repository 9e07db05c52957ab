package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
)

// Column layout of the two dump tables. The dump schema is stable but
// unversioned; these indexes come from the published db-dump format.
const (
	cratesColID   = 4
	cratesColName = 7

	versionsColCrateID    = 3
	versionsColCrateSize  = 4
	versionsColDownloads  = 8
	versionsColVersion    = 17
	versionsColRepository = 20
	versionsColYanked     = 23

	versionsNumCols = 24
)

// ParseIDNameMapping reads the crates table into an id→name map. The whole
// table fits comfortably in memory; the versions table does not, which is
// why it is streamed instead.
func ParseIDNameMapping(path string) (map[uint64]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening crates table: %w", err)
	}
	defer f.Close()

	rdr := csv.NewReader(f)
	rdr.ReuseRecord = true
	if _, err := rdr.Read(); err != nil { // header
		return nil, fmt.Errorf("reading crates table header: %w", err)
	}
	mapping := make(map[uint64]string)
	for {
		rec, err := rdr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				slog.Warn("skipping malformed crates record", "err", err)
				continue
			}
			return nil, fmt.Errorf("reading crates table: %w", err)
		}
		if len(rec) <= cratesColName {
			slog.Warn("skipping short crates record", "fields", len(rec))
			continue
		}
		id, err := strconv.ParseUint(rec[cratesColID], 10, 64)
		if err != nil {
			slog.Warn("skipping crates record with bad id", "id", rec[cratesColID], "err", err)
			continue
		}
		mapping[id] = rec[cratesColName]
	}
	slog.Debug("parsed crate id to name mappings", "count", len(mapping), "path", path)
	return mapping, nil
}

// ConsumeVersions streams the versions table through consumer, in row order.
// Malformed rows are logged and skipped; only file-level I/O failures abort
// the scan.
func ConsumeVersions(path string, names map[uint64]string, consumer Consumer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening versions table: %w", err)
	}
	defer f.Close()

	rdr := csv.NewReader(f)
	rdr.ReuseRecord = true
	rdr.FieldsPerRecord = versionsNumCols
	if _, err := rdr.Read(); err != nil { // header
		return fmt.Errorf("reading versions table header: %w", err)
	}
	read := 0
	for {
		rec, err := rdr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		read++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				slog.Warn("skipping malformed versions record", "record", read, "err", err)
				continue
			}
			return fmt.Errorf("reading versions table: %w", err)
		}
		entry, err := parseVersionsRecord(rec)
		if err != nil {
			slog.Warn("skipping unparsable versions record", "record", read, "err", err)
			continue
		}
		name, ok := names[entry.CrateID]
		if !ok {
			slog.Warn("skipping versions record with unknown crate id", "crate_id", entry.CrateID)
			continue
		}
		keepGoing, err := consumer.Consume(name, entry)
		if err != nil {
			return fmt.Errorf("consuming versions record: %w", err)
		}
		if !keepGoing {
			slog.Info("consumer finished early", "records_read", read)
			return nil
		}
	}
	slog.Debug("consumed versions records", "count", read, "path", path)
	return nil
}

func parseVersionsRecord(rec []string) (VersionsEntry, error) {
	var e VersionsEntry
	var err error
	if e.CrateID, err = strconv.ParseUint(rec[versionsColCrateID], 10, 64); err != nil {
		return e, fmt.Errorf("parsing crate id: %w", err)
	}
	if e.CrateSize, err = strconv.ParseUint(rec[versionsColCrateSize], 10, 64); err != nil {
		return e, fmt.Errorf("parsing crate size: %w", err)
	}
	if e.Downloads, err = strconv.ParseUint(rec[versionsColDownloads], 10, 64); err != nil {
		return e, fmt.Errorf("parsing downloads: %w", err)
	}
	e.Version = rec[versionsColVersion]
	e.Repository = rec[versionsColRepository]
	switch rec[versionsColYanked] {
	case "t":
		e.Yanked = true
	case "f":
		e.Yanked = false
	default:
		return e, fmt.Errorf("unexpected yanked value %q", rec[versionsColYanked])
	}
	return e, nil
}
