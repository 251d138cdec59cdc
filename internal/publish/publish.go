// Package publish uploads compressed snapshots of a built database and
// fetches them back.
//
// A snapshot is the database file wrapped in a snappy framed stream, stored
// under <prefix>/collegescvis-<UTC timestamp>-<id>.sqlite.sz. Names sort by
// creation time, so the greatest name is the latest snapshot.
package publish

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	scerrors "github.com/sacline/collegescvis/internal/errors"
	"github.com/sacline/collegescvis/internal/storage"
)

// SnapshotSuffix ends every snapshot object name.
const SnapshotSuffix = ".sqlite.sz"

const stampLayout = "20060102T150405Z"

// Snapshot describes a published database.
type Snapshot struct {
	ObjectPath     string
	Size           int64
	CompressedSize int64
	CreatedAt      time.Time
}

// Publisher moves snapshots between a local database file and object storage.
type Publisher struct {
	store  storage.ObjectStorage
	prefix string
	now    func() time.Time
}

// New creates a publisher writing under prefix.
func New(store storage.ObjectStorage, prefix string) *Publisher {
	return &Publisher{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (p *Publisher) objectName(at time.Time) string {
	name := fmt.Sprintf("collegescvis-%s-%s%s", at.UTC().Format(stampLayout), uuid.New().String()[:8], SnapshotSuffix)
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Publish compresses the database at dbPath and uploads it. The database
// must not have an open writer.
func (p *Publisher) Publish(ctx context.Context, dbPath string) (Snapshot, error) {
	src, err := os.Open(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, scerrors.NewNotFound(fmt.Sprintf("database %s not found", dbPath), err)
		}
		return Snapshot{}, fmt.Errorf("publish: failed to open %s: %w", dbPath, err)
	}
	defer src.Close()

	if info, err := os.Stat(dbPath + "-wal"); err == nil && info.Size() > 0 {
		log.Printf("[WARN] publish: %s has an uncheckpointed WAL, snapshot may be stale", dbPath)
	}

	tmp, err := os.CreateTemp("", "collegescvis-*"+SnapshotSuffix)
	if err != nil {
		return Snapshot{}, fmt.Errorf("publish: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w := snappy.NewBufferedWriter(tmp)
	size, err := io.Copy(w, src)
	if err != nil {
		return Snapshot{}, fmt.Errorf("publish: failed to compress %s: %w", dbPath, err)
	}
	if err := w.Close(); err != nil {
		return Snapshot{}, fmt.Errorf("publish: failed to flush snapshot: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return Snapshot{}, fmt.Errorf("publish: failed to stat snapshot: %w", err)
	}

	created := p.now()
	snap := Snapshot{
		ObjectPath:     p.objectName(created),
		Size:           size,
		CompressedSize: info.Size(),
		CreatedAt:      created,
	}
	if err := p.store.Upload(ctx, tmp.Name(), snap.ObjectPath); err != nil {
		return Snapshot{}, err
	}

	log.Printf("publish: uploaded %s (%d bytes, %d compressed)", snap.ObjectPath, snap.Size, snap.CompressedSize)
	return snap, nil
}

// Fetch downloads the snapshot at objectPath and decompresses it to dest.
// dest is replaced only after the whole snapshot has been decoded.
func (p *Publisher) Fetch(ctx context.Context, objectPath, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("publish: failed to create %s: %w", dir, err)
	}

	compressed := dest + ".sz.part"
	if err := p.store.Download(ctx, objectPath, compressed); err != nil {
		os.Remove(compressed)
		return err
	}
	defer os.Remove(compressed)

	src, err := os.Open(compressed)
	if err != nil {
		return fmt.Errorf("publish: failed to open download: %w", err)
	}
	defer src.Close()

	partial := dest + ".part"
	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("publish: failed to create %s: %w", partial, err)
	}
	if _, err := io.Copy(out, snappy.NewReader(src)); err != nil {
		out.Close()
		os.Remove(partial)
		return scerrors.NewStorageError(scerrors.CodeDownloadFailed,
			fmt.Sprintf("snapshot %s is corrupt", objectPath), err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("publish: failed to write %s: %w", partial, err)
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("publish: failed to install %s: %w", dest, err)
	}

	log.Printf("publish: fetched %s into %s", objectPath, dest)
	return nil
}

// List returns snapshot object paths, oldest first.
func (p *Publisher) List(ctx context.Context) ([]string, error) {
	objects, err := p.store.ListObjects(ctx, p.prefix)
	if err != nil {
		return nil, err
	}
	var snaps []string
	for _, o := range objects {
		if strings.HasSuffix(o, SnapshotSuffix) && strings.HasPrefix(path.Base(o), "collegescvis-") {
			snaps = append(snaps, o)
		}
	}
	sort.Strings(snaps)
	return snaps, nil
}

// Latest returns the most recent snapshot object path.
func (p *Publisher) Latest(ctx context.Context) (string, error) {
	snaps, err := p.List(ctx)
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return "", scerrors.NewNotFound(fmt.Sprintf("no snapshots under %q", p.prefix), nil)
	}
	return snaps[len(snaps)-1], nil
}

// Prune deletes all but the newest keep snapshots and returns the deleted paths.
func (p *Publisher) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 1 {
		return nil, scerrors.NewInvalidInput(fmt.Sprintf("keep must be at least 1 (got %d)", keep))
	}
	snaps, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	stale := snaps[:len(snaps)-keep]
	for _, o := range stale {
		if err := p.store.Delete(ctx, o); err != nil {
			return nil, err
		}
	}
	log.Printf("publish: pruned %d snapshots, kept %d", len(stale), keep)
	return stale, nil
}
