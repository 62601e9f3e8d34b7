package clipboard

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

func TestUTF16RoundTrip(t *testing.T) {
	tests := []string{"Hello", "", "héllo wörld", "日本語", "line1\nline2"}
	for _, s := range tests {
		enc, err := utf8ToUTF16([]byte(s))
		if err != nil {
			t.Fatalf("%q encode: %v", s, err)
		}
		if len(enc) < 2 || enc[len(enc)-1] != 0 || enc[len(enc)-2] != 0 {
			t.Fatalf("%q: missing NUL terminator", s)
		}
		dec, err := utf16ToUTF8(enc)
		if err != nil {
			t.Fatalf("%q decode: %v", s, err)
		}
		if string(dec) != s {
			t.Fatalf("round trip %q → %q", s, dec)
		}
	}
}

func TestUTF16DecodeStopsAtNUL(t *testing.T) {
	enc, _ := utf8ToUTF16([]byte("ab"))
	enc = append(enc, 'x', 0) // garbage after the terminator
	dec, err := utf16ToUTF8(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != "ab" {
		t.Fatalf("decoded %q, want ab", dec)
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: byte(10 * x), G: byte(10 * y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPNGDIBRoundTrip(t *testing.T) {
	orig := testPNG(t, 5, 3)
	dib, err := pngToDIB(orig)
	if err != nil {
		t.Fatalf("pngToDIB: %v", err)
	}
	back, err := dibToPNG(dib)
	if err != nil {
		t.Fatalf("dibToPNG: %v", err)
	}

	a, err := png.Decode(bytes.NewReader(orig))
	if err != nil {
		t.Fatal(err)
	}
	b, err := png.Decode(bytes.NewReader(back))
	if err != nil {
		t.Fatal(err)
	}
	if a.Bounds() != b.Bounds() {
		t.Fatalf("bounds %v != %v", a.Bounds(), b.Bounds())
	}
	for y := 0; y < a.Bounds().Dy(); y++ {
		for x := 0; x < a.Bounds().Dx(); x++ {
			ar, ag, ab, _ := a.At(x, y).RGBA()
			br, bg, bb, _ := b.At(x, y).RGBA()
			if ar != br || ag != bg || ab != bb {
				t.Fatalf("pixel (%d,%d) differs", x, y)
			}
		}
	}
}

func TestDIBToPNGRejectsMalformed(t *testing.T) {
	if _, err := dibToPNG([]byte{1, 2, 3}); err == nil {
		t.Fatal("short DIB must error")
	}
	// Header claiming a giant image with no pixels.
	dib := make([]byte, dibHeaderSize)
	dib[0] = dibHeaderSize
	dib[4] = 0xFF
	dib[5] = 0xFF
	dib[8] = 1
	dib[14] = 32
	if _, err := dibToPNG(dib); err == nil {
		t.Fatal("truncated pixel array must error")
	}
}

func TestURIListRoundTrip(t *testing.T) {
	paths := []string{"/home/user/a.txt", "/tmp/with space.pdf"}
	data := pathsToURIList(paths)
	got := uriListToPaths(data)
	if len(got) != 2 || got[0] != paths[0] || got[1] != paths[1] {
		t.Fatalf("round trip = %v", got)
	}
}

func TestURIListSkipsCommentsAndRemotes(t *testing.T) {
	data := []byte("# comment\r\nfile:///ok.txt\r\nhttp://example.com/x\r\n")
	got := uriListToPaths(data)
	if len(got) != 1 || got[0] != "/ok.txt" {
		t.Fatalf("paths = %v", got)
	}
}

func TestCFHTMLRoundTrip(t *testing.T) {
	html := []byte("<b>bold</b>")
	wrapped := htmlToCFHTML(html)
	if !strings.HasPrefix(string(wrapped), "Version:0.9") {
		t.Fatal("missing CF_HTML header")
	}
	got := cfHTMLToHTML(wrapped)
	if string(got) != string(html) {
		t.Fatalf("fragment = %q, want %q", got, html)
	}
}

func TestCFHTMLPassthroughWithoutHeader(t *testing.T) {
	raw := []byte("<p>plain</p>")
	if got := cfHTMLToHTML(raw); string(got) != string(raw) {
		t.Fatalf("passthrough = %q", got)
	}
}

func TestMimeSetForFormats(t *testing.T) {
	mimes := mimeSetForFormats([]rdp.ClipboardFormat{
		{ID: rdp.CFUnicodeText},
		{ID: rdp.CFDIB},
		{ID: 0xC123, Name: rdp.FormatNameHTML},
		{ID: 0xC124, Name: "SomethingPrivate"},
	})
	want := map[string]bool{MimeTextUTF8: true, MimeTextPlain: true, MimePNG: true, MimeHTML: true}
	if len(mimes) != len(want) {
		t.Fatalf("mimes = %v", mimes)
	}
	for _, m := range mimes {
		if !want[m] {
			t.Fatalf("unexpected mime %q", m)
		}
	}
}

func TestRemoteFormatForMimeTakesFirstAnnouncedMatch(t *testing.T) {
	formats := []rdp.ClipboardFormat{
		{ID: rdp.CFDIB},
		{ID: 0xC200, Name: rdp.FormatNamePNG},
	}
	f, ok := remoteFormatForMime(formats, MimePNG)
	if !ok || f.ID != rdp.CFDIB {
		t.Fatalf("format = %+v, want the first announced match", f)
	}
}
