// Package session turns fetched images into downloadable, time-boxed archives.
//
// A session moves created -> populating -> archived -> expired. Loose image
// files live only in a per-session work directory; once the archive exists it
// and a title sidecar are handed to an ArchiveStore and the work directory is
// removed. A Registry tracks the expiry deadline, which is enforced lazily on
// every download and eagerly by the sweeper.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/archive"
	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

const (
	// DefaultRetention is how long an archive stays downloadable.
	DefaultRetention = time.Hour
	// DefaultSweepInterval is how often expired sessions are purged.
	DefaultSweepInterval = time.Minute
	// DefaultArchiveName is served when the stored title is unusable.
	DefaultArchiveName = "listing_images.zip"

	archiveObject = "images.zip"
	titleObject   = "title.txt"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Config controls session lifecycle.
type Config struct {
	WorkDir            string
	Retention          time.Duration
	DefaultArchiveName string
}

// Hooks are notified of lifecycle transitions.
type Hooks struct {
	OnArchived func()
	OnExpired  func()
}

// Download is an archive ready to stream to a client.
type Download struct {
	Body      io.ReadCloser
	Filename  string
	ExpiresAt time.Time
}

// Manager creates, serves and expires sessions.
type Manager struct {
	cfg      Config
	store    listing.ArchiveStore
	registry Registry
	clock    listing.Clock
	ids      listing.IDGenerator
	logger   *zap.Logger
	hooks    Hooks
}

// NewManager validates cfg and wires a Manager.
func NewManager(
	cfg Config,
	store listing.ArchiveStore,
	registry Registry,
	clock listing.Clock,
	ids listing.IDGenerator,
	logger *zap.Logger,
) (*Manager, error) {
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if store == nil || registry == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("store, registry, clock and id generator are required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.DefaultArchiveName == "" {
		cfg.DefaultArchiveName = DefaultArchiveName
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		registry: registry,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}, nil
}

// WithHooks registers lifecycle callbacks.
func (m *Manager) WithHooks(h Hooks) *Manager {
	m.hooks = h
	return m
}

// DefaultArchiveName returns the fallback download filename.
func (m *Manager) DefaultArchiveName() string {
	return m.cfg.DefaultArchiveName
}

// Assemble writes items into a fresh session, archives them and registers the
// session for download. Items are stored as image_<Index>.png.
func (m *Manager) Assemble(ctx context.Context, title string, items []listing.FetchedItem) (listing.Session, error) {
	if len(items) == 0 {
		return listing.Session{}, listing.ErrNoItemsFetched
	}
	id, err := m.ids.NewID()
	if err != nil {
		return listing.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	now := m.clock.Now().UTC()
	sess := listing.Session{
		ID:            id,
		Directory:     filepath.Join(m.cfg.WorkDir, id),
		TitleSnapshot: title,
		State:         listing.SessionCreated,
		CreatedAt:     now,
	}
	if err := os.Mkdir(sess.Directory, 0o750); err != nil {
		return listing.Session{}, fmt.Errorf("create session directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(sess.Directory); err != nil {
			m.logger.Warn("session directory cleanup failed", zap.String("session_id", id), zap.Error(err))
		}
	}()

	if err := m.populate(&sess, items); err != nil {
		return listing.Session{}, err
	}
	if err := m.archive(ctx, &sess); err != nil {
		m.discard(id)
		return listing.Session{}, err
	}

	sess.ExpiresAt = now.Add(m.cfg.Retention)
	if err := m.registry.Register(ctx, id, title, sess.ExpiresAt); err != nil {
		m.discard(id)
		return listing.Session{}, err
	}
	sess.State = listing.SessionArchived
	if m.hooks.OnArchived != nil {
		m.hooks.OnArchived()
	}
	m.logger.Info("session archived",
		zap.String("session_id", id),
		zap.Int("images", len(sess.Files)),
		zap.String("archive", sess.ArchivePath),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	return sess, nil
}

func (m *Manager) populate(sess *listing.Session, items []listing.FetchedItem) error {
	sess.State = listing.SessionPopulating
	sorted := append([]listing.FetchedItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for _, item := range sorted {
		path := filepath.Join(sess.Directory, fmt.Sprintf("image_%d.png", item.Index))
		if err := os.WriteFile(path, item.Data, 0o600); err != nil {
			return fmt.Errorf("write image %d: %w", item.Index, err)
		}
		sess.Files = append(sess.Files, listing.SessionFile{Index: item.Index, LocalPath: path})
	}
	return nil
}

func (m *Manager) archive(ctx context.Context, sess *listing.Session) error {
	entries := make([]archive.Entry, 0, len(sess.Files))
	for _, f := range sess.Files {
		entries = append(entries, archive.Entry{Name: filepath.Base(f.LocalPath), Source: f.LocalPath})
	}
	localArchive := filepath.Join(sess.Directory, archiveObject)
	if err := archive.WriteFile(localArchive, entries, sess.CreatedAt); err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	for _, f := range sess.Files {
		if err := os.Remove(f.LocalPath); err != nil {
			return fmt.Errorf("remove loose image: %w", err)
		}
	}

	src, err := os.Open(localArchive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()
	uri, err := m.store.PutObject(ctx, objectPath(sess.ID, archiveObject), archive.ContentType, src)
	if err != nil {
		return fmt.Errorf("store archive: %w", err)
	}
	sess.ArchivePath = uri
	if _, err := m.store.PutObject(ctx, objectPath(sess.ID, titleObject), "text/plain; charset=utf-8",
		strings.NewReader(sess.TitleSnapshot)); err != nil {
		return fmt.Errorf("store title: %w", err)
	}
	return nil
}

// Open returns the archive for id. Unknown, malformed and expired ids all
// yield listing.ErrSessionNotFound.
func (m *Manager) Open(ctx context.Context, id string) (Download, error) {
	if !validID.MatchString(id) {
		return Download{}, listing.ErrSessionNotFound
	}
	entry, err := m.registry.Lookup(ctx, id, m.clock.Now())
	if err != nil {
		return Download{}, err
	}
	body, err := m.store.GetObject(ctx, objectPath(id, archiveObject))
	if err != nil {
		if errors.Is(err, listing.ErrObjectNotFound) {
			return Download{}, listing.ErrSessionNotFound
		}
		return Download{}, err
	}
	return Download{
		Body:      body,
		Filename:  DisplayFilename(m.readTitle(ctx, id), m.cfg.DefaultArchiveName),
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// readTitle returns the sidecar title, or "" when it cannot be read.
func (m *Manager) readTitle(ctx context.Context, id string) string {
	rc, err := m.store.GetObject(ctx, objectPath(id, titleObject))
	if err != nil {
		m.logger.Debug("title sidecar unavailable", zap.String("session_id", id), zap.Error(err))
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(data)
}

// Sweep deletes every session whose deadline has passed and returns how many
// were removed. Sessions whose artifacts cannot be deleted stay registered and
// are retried on the next sweep.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.registry.Expired(ctx, m.clock.Now())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := m.store.DeletePrefix(ctx, id); err != nil {
			m.logger.Warn("expired session cleanup failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if err := m.registry.Remove(ctx, id); err != nil {
			m.logger.Warn("expired session deregister failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		removed++
		if m.hooks.OnExpired != nil {
			m.hooks.OnExpired()
		}
		m.logger.Info("session expired", zap.String("session_id", id))
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("session sweep failed", zap.Error(err))
			}
		}
	}
}

// Active counts sessions that are still downloadable.
func (m *Manager) Active(ctx context.Context) (int, error) {
	return m.registry.Active(ctx, m.clock.Now())
}

// PurgeWorkDir removes work directories left behind by a previous process.
func (m *Manager) PurgeWorkDir() error {
	entries, err := os.ReadDir(m.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("read work directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(m.cfg.WorkDir, entry.Name())); err != nil {
			return fmt.Errorf("purge %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// discard removes a half-built session from the store.
func (m *Manager) discard(id string) {
	if err := m.store.DeletePrefix(context.Background(), id); err != nil {
		m.logger.Warn("discard session artifacts failed", zap.String("session_id", id), zap.Error(err))
	}
}

func objectPath(id, name string) string {
	return id + "/" + name
}
