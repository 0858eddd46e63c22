package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"photowall/api/internal/config"
	"photowall/api/internal/store"
	"photowall/api/internal/wall"
)

// fakePhotoStore is an in-memory catalog.
type fakePhotoStore struct {
	mu      sync.Mutex
	photos  map[string]store.Photo
	pingErr error
}

func newFakePhotoStore() *fakePhotoStore {
	return &fakePhotoStore{photos: make(map[string]store.Photo)}
}

func (f *fakePhotoStore) InsertPhoto(_ context.Context, photo store.Photo) (store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	photo.CreatedAt = time.Now()
	f.photos[photo.ID] = photo
	return photo, nil
}

func (f *fakePhotoStore) GetPhoto(_ context.Context, id string) (store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	photo, ok := f.photos[id]
	if !ok {
		return store.Photo{}, store.ErrNotFound
	}
	return photo, nil
}

func (f *fakePhotoStore) DeletePhoto(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.photos[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.photos, id)
	return nil
}

func (f *fakePhotoStore) ListPhotos(_ context.Context, wallID string) ([]store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var photos []store.Photo
	for _, photo := range f.photos {
		if photo.WallID == wallID {
			photos = append(photos, photo)
		}
	}
	return photos, nil
}

func (f *fakePhotoStore) Ping(context.Context) error {
	return f.pingErr
}

// fakeBlobStore records puts and removes.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey] = data
	return nil
}

func (f *fakeBlobStore) PresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://blobs.local/" + objectKey + "?sig=test", nil
}

func (f *fakeBlobStore) Remove(_ context.Context, objectKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectKey)
	f.removed = append(f.removed, objectKey)
	return nil
}

// fakeFeedTransport confirms subscriptions immediately and records
// published events.
type fakeFeedTransport struct {
	mu        sync.Mutex
	published []wall.Event
	pingErr   error
}

func (f *fakeFeedTransport) Subscribe(ctx context.Context, wallID string) (wall.Subscription, error) {
	sub := &stubSubscription{
		events: make(chan wall.Event, 16),
		status: make(chan wall.FeedStatus, 4),
	}
	sub.status <- wall.FeedSubscribed
	return sub, nil
}

func (f *fakeFeedTransport) Publish(_ context.Context, _ string, ev wall.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeFeedTransport) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeFeedTransport) publishedEvents() []wall.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wall.Event(nil), f.published...)
}

type stubSubscription struct {
	events chan wall.Event
	status chan wall.FeedStatus
	once   sync.Once
}

func (s *stubSubscription) Events() <-chan wall.Event      { return s.events }
func (s *stubSubscription) Status() <-chan wall.FeedStatus { return s.status }

func (s *stubSubscription) Close() error {
	s.once.Do(func() {
		close(s.events)
		close(s.status)
	})
	return nil
}

func testConfig() config.Config {
	cfg := config.Load()
	cfg.WallCapacity = 8
	cfg.GracePeriod = 20 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PollTimeout = time.Second
	cfg.MaxUploadBytes = 1 << 20
	return cfg
}

func newTestService() (*Service, *fakePhotoStore, *fakeBlobStore, *fakeFeedTransport) {
	photoStore := newFakePhotoStore()
	blobs := newFakeBlobStore()
	transport := &fakeFeedTransport{}
	return New(testConfig(), photoStore, blobs, transport), photoStore, blobs, transport
}

func uploadBody(field, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	boundary := "photowall-test-boundary"
	fmt.Fprintf(body, "--%s\r\n", boundary)
	fmt.Fprintf(body, "Content-Disposition: form-data; name=%q; filename=%q\r\n", field, filename)
	fmt.Fprintf(body, "Content-Type: %s\r\n\r\n", contentType)
	body.Write(payload)
	fmt.Fprintf(body, "\r\n--%s--\r\n", boundary)
	return body, "multipart/form-data; boundary=" + boundary
}

func photoRow(id, wallID string) store.Photo {
	return store.Photo{
		ID:          id,
		WallID:      wallID,
		ObjectKey:   wallID + "/" + id + ".jpg",
		ContentType: "image/jpeg",
		SizeBytes:   1024,
	}
}

var errUnavailable = errors.New("unavailable")
