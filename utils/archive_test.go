package utils

import (
	"archive/tar"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type member struct {
	name string
	body []byte
	dir  bool
}

func buildZip(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		if m.dir {
			_, err := zw.Create(m.name + "/")
			require.NoError(t, err)
			continue
		}
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write(m.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTar(t *testing.T, members []member, gz bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	var gzw *gzip.Writer
	tw := tar.NewWriter(&buf)
	if gz {
		gzw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(gzw)
	}
	for _, m := range members {
		if m.dir {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: m.name + "/", Typeflag: tar.TypeDir, Mode: 0755}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: m.name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(m.body))}))
		_, err := tw.Write(m.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	if gzw != nil {
		require.NoError(t, gzw.Close())
	}
	return buf.Bytes()
}

func relNames(t *testing.T, root string, paths []string) []string {
	t.Helper()
	var out []string
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestExtractArchive_Formats(t *testing.T) {
	img := pngBytes(t)
	members := []member{
		{name: "trip", dir: true},
		{name: "trip/a.jpg", body: img},
		{name: "trip/sub/B.PNG", body: img},
		{name: "notes.txt", body: []byte("hello")},
	}

	cases := []struct {
		filename string
		data     []byte
	}{
		{"album.zip", buildZip(t, members)},
		{"album.tar", buildTar(t, members, false)},
		{"album.tar.gz", buildTar(t, members, true)},
		{"ALBUM.TGZ", buildTar(t, members, true)},
	}

	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			dest := t.TempDir()
			extracted, err := ExtractArchive(bytes.NewReader(tc.data), tc.filename, dest)
			require.NoError(t, err)
			require.Equal(t, []string{"trip/a.jpg", "trip/sub/B.PNG"}, relNames(t, dest, extracted))

			_, err = os.Stat(filepath.Join(dest, "notes.txt"))
			require.True(t, os.IsNotExist(err))

			got, err := os.ReadFile(filepath.Join(dest, "trip", "a.jpg"))
			require.NoError(t, err)
			require.Equal(t, img, got)
		})
	}
}

func TestExtractArchive_Unsupported(t *testing.T) {
	_, err := ExtractArchive(bytes.NewReader([]byte("x")), "photos.rar", t.TempDir())
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestExtractArchive_Corrupt(t *testing.T) {
	_, err := ExtractArchive(bytes.NewReader([]byte("definitely not a zip")), "broken.zip", t.TempDir())
	require.ErrorIs(t, err, ErrExtraction)
	require.NotErrorIs(t, err, ErrUnsupportedArchive)
}

func TestExtractArchive_RejectsPathEscape(t *testing.T) {
	data := buildZip(t, []member{{name: "../../evil.jpg", body: pngBytes(t)}})
	parent := t.TempDir()
	dest := filepath.Join(parent, "scratch")

	_, err := ExtractArchive(bytes.NewReader(data), "evil.zip", dest)
	require.ErrorIs(t, err, ErrExtraction)

	var escape *PathEscapeError
	require.ErrorAs(t, err, &escape)
	_, statErr := os.Stat(filepath.Join(parent, "evil.jpg"))
	require.True(t, os.IsNotExist(statErr))
}

func TestExtractArchive_NoImages(t *testing.T) {
	data := buildZip(t, []member{{name: "readme.md", body: []byte("#")}})
	extracted, err := ExtractArchive(bytes.NewReader(data), "docs.zip", t.TempDir())
	require.NoError(t, err)
	require.Empty(t, extracted)
}

func TestExtractArchive_RepeatedMemberListedOnce(t *testing.T) {
	first, second := pngBytes(t), append(pngBytes(t), 0x00)
	for _, tc := range []struct {
		filename string
		data     []byte
	}{
		{"dupes.zip", buildZip(t, []member{{name: "a.png", body: first}, {name: "a.png", body: second}})},
		{"dupes.tar", buildTar(t, []member{{name: "a.png", body: first}, {name: "a.png", body: second}}, false)},
	} {
		t.Run(tc.filename, func(t *testing.T) {
			dest := t.TempDir()
			extracted, err := ExtractArchive(bytes.NewReader(tc.data), tc.filename, dest)
			require.NoError(t, err)
			require.Equal(t, []string{"a.png"}, relNames(t, dest, extracted))

			got, err := os.ReadFile(filepath.Join(dest, "a.png"))
			require.NoError(t, err)
			require.Equal(t, second, got, "the later member wins")
		})
	}
}

func TestDetectArchiveKind(t *testing.T) {
	require.Equal(t, kindTarBz2, detectArchiveKind("x.tar.bz2"))
	require.Equal(t, kindTarBz2, detectArchiveKind("x.TBZ2"))
	require.Equal(t, kindTarGz, detectArchiveKind("x.tgz"))
	require.Equal(t, kindTar, detectArchiveKind("x.tar"))
	require.Equal(t, kindZip, detectArchiveKind("x.Zip"))
	require.False(t, IsSupportedArchive("x.7z"))
}

func TestIsRasterImage(t *testing.T) {
	for _, name := range []string{"a.jpg", "A.JPEG", "b.Png", "c.gif", "d.bmp", "e.tif", "f.TIFF", "g.webp"} {
		require.True(t, IsRasterImage(name), name)
	}
	for _, name := range []string{"a.txt", "b.heic", "noext", "c.jpg.txt"} {
		require.False(t, IsRasterImage(name), name)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	p, err := SafeJoin(root, "a/b.jpg")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "a", "b.jpg"), p)

	_, err = SafeJoin(root, "../x.jpg")
	require.Error(t, err)

	_, err = SafeJoin(root, "a/../../x.jpg")
	require.Error(t, err)
}
