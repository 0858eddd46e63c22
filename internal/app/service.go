package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"photowall/api/internal/config"
	"photowall/api/internal/layout"
	"photowall/api/internal/pattern"
	"photowall/api/internal/store"
	"photowall/api/internal/util"
	"photowall/api/internal/wall"
)

// PhotoStore is the catalog: the source of truth for wall membership.
type PhotoStore interface {
	InsertPhoto(ctx context.Context, photo store.Photo) (store.Photo, error)
	GetPhoto(ctx context.Context, id string) (store.Photo, error)
	DeletePhoto(ctx context.Context, id string) error
	ListPhotos(ctx context.Context, wallID string) ([]store.Photo, error)
	Ping(ctx context.Context) error
}

// BlobStore holds photo binaries.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

// Feed is the change-feed transport: subscribe side for supervisors,
// publish side for the write path.
type Feed interface {
	wall.ChangeFeed
	Publish(ctx context.Context, wallID string, ev wall.Event) error
	Ping(ctx context.Context) error
}

// PhotoView is a catalog row prepared for clients: object key swapped for a
// short-lived URL.
type PhotoView struct {
	ID          string    `json:"id"`
	WallID      string    `json:"wallId"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LayoutView is one wall's full display state at one instant.
type LayoutView struct {
	WallID   string        `json:"wallId"`
	Pattern  string        `json:"pattern"`
	Status   string        `json:"status"`
	Capacity int           `json:"capacity"`
	Cells    []layout.Cell `json:"cells"`
}

type wallSession struct {
	supervisor *wall.Supervisor
	engine     *layout.Engine
}

// Service owns one live session (supervisor + layout engine) per displayed
// wall, created on first touch and torn down on Close.
type Service struct {
	cfg   config.Config
	store PhotoStore
	blobs BlobStore
	feed  Feed

	mu       sync.Mutex
	sessions map[string]*wallSession
	closed   bool
}

func New(cfg config.Config, photoStore PhotoStore, blobs BlobStore, feed Feed) *Service {
	return &Service{
		cfg:      cfg,
		store:    photoStore,
		blobs:    blobs,
		feed:     feed,
		sessions: make(map[string]*wallSession),
	}
}

// session returns the live session for a wall, starting one if needed.
func (s *Service) session(wallID string) (*wallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domainError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down", nil)
	}
	if sess, ok := s.sessions[wallID]; ok {
		return sess, nil
	}

	wallStore := wall.NewStore()
	supervisor := wall.NewSupervisor(wallID, wallStore, s.feed, snapshotReader{s.store}, wall.SupervisorConfig{
		GracePeriod:  s.cfg.GracePeriod,
		PollInterval: s.cfg.PollInterval,
		PollTimeout:  s.cfg.PollTimeout,
	})
	supervisor.Start(context.Background())

	sess := &wallSession{
		supervisor: supervisor,
		engine:     layout.NewEngine(wallID, wallStore, s.cfg.WallCapacity, pattern.Config{}),
	}
	s.sessions[wallID] = sess
	log.Printf("wall %s: session started (capacity %d)", wallID, s.cfg.WallCapacity)
	return sess, nil
}

// Layout returns the current display cells for a wall. A pattern name, if
// given, is honored for this response only; reads never change the wall's
// active pattern, so one viewer previewing a strategy cannot reshuffle every
// other viewer's display. Elapsed time can be pinned for reproducible output.
func (s *Service) Layout(wallID, patternName string, elapsed *float64) (LayoutView, error) {
	sess, err := s.session(wallID)
	if err != nil {
		return LayoutView{}, err
	}

	t := sess.engine.Elapsed(time.Now())
	if elapsed != nil {
		t = *elapsed
	}

	name := sess.engine.Pattern()
	var cells []layout.Cell
	if patternName != "" && patternName != name {
		cells, err = sess.engine.LayoutWith(patternName, t)
		if err != nil {
			return LayoutView{}, domainError(http.StatusBadRequest, "UNKNOWN_PATTERN", err.Error(), nil)
		}
		name = patternName
	} else {
		cells = sess.engine.LayoutAt(t)
	}
	return LayoutView{
		WallID:   wallID,
		Pattern:  name,
		Status:   connectionStatus(sess.supervisor.State()),
		Capacity: len(cells),
		Cells:    cells,
	}, nil
}

// SetWallPattern switches the wall's active pattern for every viewer.
func (s *Service) SetWallPattern(wallID, patternName string) error {
	sess, err := s.session(wallID)
	if err != nil {
		return err
	}
	if err := sess.engine.SetPattern(patternName); err != nil {
		return domainError(http.StatusBadRequest, "UNKNOWN_PATTERN", err.Error(), nil)
	}
	log.Printf("wall %s: pattern set to %s", wallID, patternName)
	return nil
}

// WallStatus reports the connection status for optional UI indication.
func (s *Service) WallStatus(wallID string) (string, error) {
	sess, err := s.session(wallID)
	if err != nil {
		return "", err
	}
	return connectionStatus(sess.supervisor.State()), nil
}

// ListWallPhotos returns the wall's catalog with presigned URLs.
func (s *Service) ListWallPhotos(ctx context.Context, wallID string) ([]PhotoView, error) {
	photos, err := s.store.ListPhotos(ctx, wallID)
	if err != nil {
		return nil, fmt.Errorf("list wall photos: %w", err)
	}
	views := make([]PhotoView, 0, len(photos))
	for _, photo := range photos {
		views = append(views, s.view(ctx, photo))
	}
	return views, nil
}

// UploadPhoto stores the binary, inserts the catalog row, and announces the
// addition on the change feed.
func (s *Service) UploadPhoto(ctx context.Context, wallID, filename, contentType string, size int64, reader io.Reader) (PhotoView, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return PhotoView{}, domainError(http.StatusUnsupportedMediaType, "NOT_AN_IMAGE", "Only image uploads are accepted", nil)
	}
	if size > s.cfg.MaxUploadBytes {
		return PhotoView{}, domainError(http.StatusRequestEntityTooLarge, "TOO_LARGE",
			fmt.Sprintf("Upload exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
	}

	id := util.NewID("photo")
	objectKey := wallID + "/" + id + extensionFor(contentType, filename)

	if err := s.blobs.Put(ctx, objectKey, reader, size, contentType); err != nil {
		return PhotoView{}, fmt.Errorf("store photo binary: %w", err)
	}

	photo, err := s.store.InsertPhoto(ctx, store.Photo{
		ID:          id,
		WallID:      wallID,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
	})
	if err != nil {
		// the catalog decides membership; orphaned blobs are cleaned up,
		// not served
		if removeErr := s.blobs.Remove(ctx, objectKey); removeErr != nil {
			log.Printf("wall %s: orphan blob %s not removed: %v", wallID, objectKey, removeErr)
		}
		return PhotoView{}, fmt.Errorf("insert photo: %w", err)
	}

	s.publish(ctx, wallID, wall.Event{Type: wall.EventAdded, Item: itemFor(photo)})
	return s.view(ctx, photo), nil
}

// DeletePhoto removes the catalog row, the binary, and announces the
// removal. Deleting an unknown id is a 404 at the HTTP boundary.
func (s *Service) DeletePhoto(ctx context.Context, wallID, id string) error {
	photo, err := s.store.GetPhoto(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Photo not found", nil)
	}
	if err != nil {
		return fmt.Errorf("lookup photo: %w", err)
	}
	if photo.WallID != wallID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Photo not found on this wall", nil)
	}

	if err := s.store.DeletePhoto(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete photo: %w", err)
	}
	if err := s.blobs.Remove(ctx, photo.ObjectKey); err != nil {
		log.Printf("wall %s: blob %s not removed: %v", wallID, photo.ObjectKey, err)
	}
	s.publish(ctx, wallID, wall.Event{Type: wall.EventRemoved, Item: itemFor(photo)})
	return nil
}

// Ping checks catalog connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingFeed checks change-feed connectivity.
func (s *Service) PingFeed(ctx context.Context) error {
	return s.feed.Ping(ctx)
}

// Close tears down every wall session.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*wallSession)
	s.mu.Unlock()

	for wallID, sess := range sessions {
		sess.supervisor.Close()
		log.Printf("wall %s: session closed", wallID)
	}
}

func (s *Service) publish(ctx context.Context, wallID string, ev wall.Event) {
	// a lost publish is not fatal: subscribers converge on the next
	// snapshot poll, and the publisher's own catalog is already correct
	if err := s.feed.Publish(ctx, wallID, ev); err != nil {
		log.Printf("wall %s: publish %s failed: %v", wallID, ev.Type, err)
	}
}

func (s *Service) view(ctx context.Context, photo store.Photo) PhotoView {
	view := PhotoView{
		ID:          photo.ID,
		WallID:      photo.WallID,
		ContentType: photo.ContentType,
		SizeBytes:   photo.SizeBytes,
		CreatedAt:   photo.CreatedAt,
	}
	url, err := s.blobs.PresignedURL(ctx, photo.ObjectKey, s.cfg.PhotoURLTTL)
	if err != nil {
		log.Printf("presign %s failed: %v", photo.ObjectKey, err)
		return view
	}
	view.URL = url
	return view
}

func itemFor(photo store.Photo) wall.Item {
	return wall.Item{
		ID:          photo.ID,
		LocationRef: photo.ObjectKey,
		CreatedAt:   photo.CreatedAt,
	}
}

func connectionStatus(state wall.ConnState) string {
	switch state {
	case wall.StateLive:
		return "live"
	case wall.StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

func extensionFor(contentType, filename string) string {
	if ext := path.Ext(filename); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// snapshotReader adapts the catalog to the supervisor's poll interface.
type snapshotReader struct {
	store PhotoStore
}

func (r snapshotReader) ListItems(ctx context.Context, wallID string) ([]wall.Item, error) {
	photos, err := r.store.ListPhotos(ctx, wallID)
	if err != nil {
		return nil, err
	}
	items := make([]wall.Item, 0, len(photos))
	for _, photo := range photos {
		items = append(items, itemFor(photo))
	}
	return items, nil
}
