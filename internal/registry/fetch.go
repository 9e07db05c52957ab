package registry

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	dumpURL   = "https://static.crates.io/db-dump.tar.gz"
	userAgent = "fmtdrift (github.com/fmtdrift)"

	// The dump is hundreds of MB; cap the number of in-flight chunks, not
	// the transfer time.
	bridgeCapacity = 32
	fetchChunkSize = 64 * 1024
)

// UpdateIndex downloads the registry dump and extracts crates.csv and
// versions.csv into dest. The download is streamed through a bounded bridge
// so memory stays flat no matter how large the archive is.
func UpdateIndex(ctx context.Context, dest string) error {
	return fetchIndex(ctx, dumpURL, dest)
}

func fetchIndex(ctx context.Context, url, dest string) error {
	// The producer keeps pushing until its context ends; cancelling on
	// return releases it once extraction short-circuits.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := &http.Client{}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building dump request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	slog.Debug("fetching crates index tar", "url", url)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching crates index tar from %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching crates index tar from %s: status %s", url, resp.Status)
	}
	slog.Debug("got success response, starting stream decode", "url", url)

	bridge := NewBridge(bridgeCapacity)
	go produceChunks(ctx, resp.Body, bridge)

	if err := extractTables(bridge, dest); err != nil {
		return fmt.Errorf("extracting crates index tables: %w", err)
	}
	return nil
}

// produceChunks pulls from the network stream and pushes into the bridge.
// A network error closes the bridge early so the consumer surfaces an I/O
// error instead of hanging or treating the stream as complete.
func produceChunks(ctx context.Context, body io.Reader, bridge *Bridge) {
	for {
		buf := make([]byte, fetchChunkSize)
		n, err := body.Read(buf)
		if n > 0 {
			if pushErr := bridge.Push(ctx, buf[:n]); pushErr != nil {
				slog.Debug("tar consumer gone, aborting read", "err", pushErr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			bridge.CloseSend()
			return
		}
		if err != nil {
			slog.Error("failed to read from response stream", "err", err)
			bridge.Abort(fmt.Errorf("reading response stream: %w", err))
			return
		}
	}
}

// extractTables scans the gzipped tar entry-by-entry and writes out only the
// two known tables, stopping as soon as both have been seen.
func extractTables(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	var cratesDone, versionsDone bool
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}
		var out string
		switch {
		case strings.HasSuffix(hdr.Name, "crates.csv"):
			out = filepath.Join(dest, "crates.csv")
			cratesDone = true
		case strings.HasSuffix(hdr.Name, "versions.csv"):
			out = filepath.Join(dest, "versions.csv")
			versionsDone = true
		default:
			continue
		}
		if err := writeEntry(tr, out); err != nil {
			return fmt.Errorf("unpacking %s: %w", hdr.Name, err)
		}
		slog.Debug("unpacked table", "entry", hdr.Name, "dest", out)
		if cratesDone && versionsDone {
			slog.Debug("unpacked all needed files from crates index tar", "dest", dest)
			return nil
		}
	}
	if !cratesDone || !versionsDone {
		return fmt.Errorf("archive ended before both tables were found (crates=%v, versions=%v)", cratesDone, versionsDone)
	}
	return nil
}

func writeEntry(r io.Reader, dest string) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
