package media

import (
	"bytes"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, solid(w, h, color.NRGBA{R: 90, G: 90, B: 90, A: 255}), imaging.JPEG))
	return buf.Bytes()
}

func memUpload(name string, data []byte) Upload {
	return Upload{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func zipUpload(t *testing.T, name string, members map[string][]byte) *Upload {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(members))
	for n := range members {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write(members[n])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	u := memUpload(name, buf.Bytes())
	return &u
}

func newTestMaterializer(t *testing.T) (*Materializer, *LocalStorage) {
	t.Helper()
	store, err := NewLocalStorage(filepath.Join(t.TempDir(), "albums"))
	require.NoError(t, err)
	return NewMaterializer(store), store
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestMaterializer_DirectUploads(t *testing.T) {
	m, store := newTestMaterializer(t)
	img := jpegBytes(t, 8, 8)

	res, err := m.Save("Holiday", []Upload{
		memUpload("C:\\Users\\me\\a.jpg", img),
		memUpload("b.JPEG", img),
		memUpload("notes.txt", []byte("hello")),
		memUpload("fake.png", []byte("plain text pretending")),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Accepted)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, filepath.Join(store.Root(), "Holiday"), res.Dir)
	require.Equal(t, []string{"a.jpg", "b.JPEG"}, listDir(t, res.Dir))
}

func TestMaterializer_ArchiveOnlyImages(t *testing.T) {
	m, _ := newTestMaterializer(t)

	res, err := m.Save("Trip", nil, zipUpload(t, "trip.zip", map[string][]byte{
		"a.jpg":     jpegBytes(t, 2000, 1000),
		"notes.txt": []byte("not an image"),
	}))
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)
	require.Equal(t, []string{"a.jpg"}, listDir(t, res.Dir), "scratch data is removed")
}

func TestMaterializer_ArchiveFlatteningKeepsEveryFile(t *testing.T) {
	m, _ := newTestMaterializer(t)
	img := jpegBytes(t, 4, 4)

	res, err := m.Save("Days", nil, zipUpload(t, "days.zip", map[string][]byte{
		"day1/a.jpg":      img,
		"day2/a.jpg":      img,
		"day2/sub/a.jpg":  img,
		"day3/other.png":  jpegBytes(t, 4, 4),
		"day3/broken.jpg": []byte("nope"),
	}))
	require.NoError(t, err)
	require.Equal(t, 4, res.Accepted)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, []string{"a.jpg", "day2_a.jpg", "day2_sub_a.jpg", "other.png"}, listDir(t, res.Dir))
}

func TestMaterializer_MixedUploadsReuseDirectory(t *testing.T) {
	m, _ := newTestMaterializer(t)
	img := jpegBytes(t, 4, 4)

	_, err := m.Save("Mixed", []Upload{memUpload("a.jpg", img)}, nil)
	require.NoError(t, err)

	res, err := m.Save("Mixed", []Upload{memUpload("a.jpg", img)}, zipUpload(t, "more.tar.zip", map[string][]byte{
		"a.jpg": img,
	}))
	require.NoError(t, err)
	require.Equal(t, 2, res.Accepted)
	require.Equal(t, []string{"a-1.jpg", "a-2.jpg", "a.jpg"}, listDir(t, res.Dir))
}

func TestMaterializer_NothingAcceptedRemovesEmptyDir(t *testing.T) {
	m, store := newTestMaterializer(t)

	res, err := m.Save("Empty", []Upload{memUpload("readme.md", []byte("#"))}, nil)
	require.NoError(t, err)
	require.Zero(t, res.Accepted)
	require.NoDirExists(t, filepath.Join(store.Root(), "Empty"))
}

func TestMaterializer_BadArchive(t *testing.T) {
	m, store := newTestMaterializer(t)
	bad := memUpload("photos.zip", []byte("garbage"))

	_, err := m.Save("Broken", nil, &bad)
	require.Error(t, err)
	require.NoDirExists(t, filepath.Join(store.Root(), "Broken"))
}

func TestMaterializer_FailedArchiveRemovesStoredPhotos(t *testing.T) {
	m, store := newTestMaterializer(t)
	bad := memUpload("broken.zip", []byte("garbage"))

	_, err := m.Save("Party", []Upload{memUpload("x.jpg", jpegBytes(t, 4, 4))}, &bad)
	require.Error(t, err)
	require.NoDirExists(t, filepath.Join(store.Root(), "Party"))

	res, err := m.Save("Party", []Upload{memUpload("y.jpg", jpegBytes(t, 4, 4))}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"y.jpg"}, listDir(t, res.Dir))
}

func TestMaterializer_FailedSaveKeepsEarlierFiles(t *testing.T) {
	m, _ := newTestMaterializer(t)
	first, err := m.Save("Party", []Upload{memUpload("x.jpg", jpegBytes(t, 4, 4))}, nil)
	require.NoError(t, err)

	bad := memUpload("broken.zip", []byte("garbage"))
	_, err = m.Save("Party", []Upload{memUpload("y.jpg", jpegBytes(t, 4, 4))}, &bad)
	require.Error(t, err)
	require.Equal(t, []string{"x.jpg"}, listDir(t, first.Dir))
}

func TestMaterializer_ArchiveWithRepeatedMember(t *testing.T) {
	m, _ := newTestMaterializer(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < 2; i++ {
		w, err := zw.Create("a.jpg")
		require.NoError(t, err)
		_, err = w.Write(jpegBytes(t, 4+i, 4))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	archive := memUpload("dupes.zip", buf.Bytes())

	res, err := m.Save("Dupes", nil, &archive)
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)
	require.Equal(t, []string{"a.jpg"}, listDir(t, res.Dir))
}

func TestMaterializer_RejectsTraversalName(t *testing.T) {
	m, _ := newTestMaterializer(t)
	_, err := m.Save("..", nil, nil)
	require.Error(t, err)
}

func TestFlattenedName(t *testing.T) {
	require.Equal(t, "a.jpg", flattenedName("a.jpg", true))
	require.Equal(t, "a.jpg", flattenedName("x/a.jpg", false))
	require.Equal(t, "x_y_a.jpg", flattenedName(filepath.Join("x", "y", "a.jpg"), true))
}

func TestLocalStorage_RemoveAllGuardsRoot(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.Error(t, store.RemoveAll(store.Root()))
	require.Error(t, store.RemoveAll(filepath.Dir(store.Root())))

	dir, err := store.EnsureAlbumDir("keep")
	require.NoError(t, err)
	_, err = store.SaveUnique(dir, "x.jpg", bytes.NewReader([]byte("12345")))
	require.NoError(t, err)

	size, err := store.DirSize(dir)
	require.NoError(t, err)
	require.EqualValues(t, 5, size)

	require.NoError(t, store.RemoveAll(dir))
	require.NoDirExists(t, dir)
}
