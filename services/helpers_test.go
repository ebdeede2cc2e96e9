package services

import (
	"bytes"
	"database/sql"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/camden-git/albumconverter/database"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/realtime"
	"github.com/camden-git/albumconverter/repository"
	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (n *recordingNotifier) Broadcast(ev realtime.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeQueue struct {
	jobs []database.ConversionJob
	err  error
}

func (q *fakeQueue) Enqueue(job database.ConversionJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	albumsRepo *repository.AlbumRepository
	jobs       *sql.DB
	store      *media.LocalStorage
	notifier   *recordingNotifier
	albums     *AlbumService
	conversion *ConversionService
	retention  *RetentionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	db, err := database.Open(filepath.Join(root, "test.db"), "silent")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := media.NewLocalStorage(filepath.Join(root, "albums"))
	require.NoError(t, err)

	f := &fixture{
		albumsRepo: repository.NewAlbumRepository(db),
		jobs:       sqlDB,
		store:      store,
		notifier:   &recordingNotifier{},
	}
	f.albums = NewAlbumService(f.albumsRepo, sqlDB, store, f.notifier)
	f.conversion = NewConversionService(f.albumsRepo, sqlDB, store, media.NewResizer(1920, 1080, 90), f.notifier)
	f.retention = NewRetentionService(f.albumsRepo, f.albums, store)
	return f
}

func encodeImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 30, G: 140, B: 220, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func upload(name string, data []byte) media.Upload {
	return media.Upload{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func zipOf(t *testing.T, name string, members map[string][]byte) *media.Upload {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for n, data := range members {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	u := upload(name, buf.Bytes())
	return &u
}

func imageSize(t *testing.T, path string) image.Point {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return image.Pt(cfg.Width, cfg.Height)
}
