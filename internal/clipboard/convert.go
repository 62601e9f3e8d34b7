package clipboard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/url"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// utf16ToUTF8 converts CF_UNICODETEXT payload (UTF-16LE, NUL-terminated)
// to UTF-8 without the terminator.
func utf16ToUTF8(data []byte) ([]byte, error) {
	out, err := utf16le.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("clipboard: utf16 decode: %w", err)
	}
	if i := bytes.IndexByte(out, 0); i >= 0 {
		out = out[:i]
	}
	return out, nil
}

// utf8ToUTF16 converts UTF-8 text to a NUL-terminated UTF-16LE payload.
func utf8ToUTF16(data []byte) ([]byte, error) {
	out, err := utf16le.NewEncoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("clipboard: utf16 encode: %w", err)
	}
	return append(out, 0, 0), nil
}

// DIB constants (BITMAPINFOHEADER).
const (
	dibHeaderSize  = 40
	biRGB          = 0
	biBitfields    = 3
)

var errBadDIB = errors.New("clipboard: malformed DIB")

// dibToPNG converts a CF_DIB payload (BITMAPINFOHEADER + pixel array) to
// PNG. 24- and 32-bit uncompressed bitmaps are supported; that covers what
// RDP clients put on the clipboard in practice.
func dibToPNG(dib []byte) ([]byte, error) {
	if len(dib) < dibHeaderSize {
		return nil, errBadDIB
	}
	headerSize := binary.LittleEndian.Uint32(dib[0:])
	if headerSize < dibHeaderSize {
		return nil, errBadDIB
	}
	width := int(int32(binary.LittleEndian.Uint32(dib[4:])))
	rawHeight := int(int32(binary.LittleEndian.Uint32(dib[8:])))
	bitCount := int(binary.LittleEndian.Uint16(dib[14:]))
	compression := binary.LittleEndian.Uint32(dib[16:])

	if width <= 0 || rawHeight == 0 {
		return nil, errBadDIB
	}
	if bitCount != 24 && bitCount != 32 {
		return nil, fmt.Errorf("%w: %d bpp", errBadDIB, bitCount)
	}
	if compression != biRGB && compression != biBitfields {
		return nil, fmt.Errorf("%w: compression %d", errBadDIB, compression)
	}

	height := rawHeight
	bottomUp := true
	if height < 0 {
		height = -height
		bottomUp = false
	}

	pixelOffset := int(headerSize)
	if compression == biBitfields {
		pixelOffset += 12 // three DWORD channel masks
	}
	stride := (width*bitCount/8 + 3) &^ 3
	if len(dib) < pixelOffset+stride*height {
		return nil, errBadDIB
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := y
		if bottomUp {
			srcY = height - 1 - y
		}
		row := dib[pixelOffset+srcY*stride:]
		for x := 0; x < width; x++ {
			var b, g, r, a byte
			if bitCount == 32 {
				b, g, r, a = row[4*x], row[4*x+1], row[4*x+2], row[4*x+3]
				// Many producers leave the fourth byte zero; treat an
				// all-zero alpha channel as opaque.
				if a == 0 {
					a = 0xFF
				}
			} else {
				b, g, r, a = row[3*x], row[3*x+1], row[3*x+2], 0xFF
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = a
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("clipboard: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// pngToDIB converts PNG bytes to a CF_DIB payload: BITMAPINFOHEADER plus a
// bottom-up 32-bit BGRA pixel array.
func pngToDIB(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("clipboard: png decode: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := make([]byte, dibHeaderSize+width*height*4)
	binary.LittleEndian.PutUint32(out[0:], dibHeaderSize)
	binary.LittleEndian.PutUint32(out[4:], uint32(width))
	binary.LittleEndian.PutUint32(out[8:], uint32(height)) // positive: bottom-up
	binary.LittleEndian.PutUint16(out[12:], 1)             // planes
	binary.LittleEndian.PutUint16(out[14:], 32)
	binary.LittleEndian.PutUint32(out[16:], biRGB)
	binary.LittleEndian.PutUint32(out[20:], uint32(width*height*4)) // image size

	stride := width * 4
	for y := 0; y < height; y++ {
		row := out[dibHeaderSize+(height-1-y)*stride:]
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[4*x+0] = byte(b >> 8)
			row[4*x+1] = byte(g >> 8)
			row[4*x+2] = byte(r >> 8)
			row[4*x+3] = byte(a >> 8)
		}
	}
	return out, nil
}

// uriListToPaths extracts local filesystem paths from a text/uri-list
// payload, skipping comments and non-file URIs.
func uriListToPaths(data []byte) []string {
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || u.Scheme != "file" {
			continue
		}
		if p := u.Path; p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// pathsToURIList builds a text/uri-list payload from filesystem paths.
func pathsToURIList(paths []string) []byte {
	var buf bytes.Buffer
	for _, p := range paths {
		u := url.URL{Scheme: "file", Path: p}
		buf.WriteString(u.String())
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// cfHTMLHeader is the CF_HTML fragment wrapper with fixed-width offsets.
const cfHTMLHeader = "Version:0.9\r\n" +
	"StartHTML:%010d\r\n" +
	"EndHTML:%010d\r\n" +
	"StartFragment:%010d\r\n" +
	"EndFragment:%010d\r\n"

// htmlToCFHTML wraps an HTML payload in the CF_HTML header.
func htmlToCFHTML(html []byte) []byte {
	const fragStart = "<html><body><!--StartFragment-->"
	const fragEnd = "<!--EndFragment--></body></html>"

	headerLen := len(fmt.Sprintf(cfHTMLHeader, 0, 0, 0, 0))
	startHTML := headerLen
	startFrag := startHTML + len(fragStart)
	endFrag := startFrag + len(html)
	endHTML := endFrag + len(fragEnd)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, cfHTMLHeader, startHTML, endHTML, startFrag, endFrag)
	buf.WriteString(fragStart)
	buf.Write(html)
	buf.WriteString(fragEnd)
	return buf.Bytes()
}

// cfHTMLToHTML extracts the fragment from a CF_HTML payload. Payloads
// without the header pass through unchanged.
func cfHTMLToHTML(data []byte) []byte {
	s := string(data)
	start, end := -1, -1
	for _, line := range strings.Split(s, "\r\n") {
		if v, ok := strings.CutPrefix(line, "StartFragment:"); ok {
			fmt.Sscanf(v, "%d", &start)
		}
		if v, ok := strings.CutPrefix(line, "EndFragment:"); ok {
			fmt.Sscanf(v, "%d", &end)
		}
		if start >= 0 && end >= 0 {
			break
		}
	}
	if start < 0 || end < 0 || start > end || end > len(data) {
		return data
	}
	return data[start:end]
}

// toPortal converts an RDP-format payload into the given MIME type's
// representation.
func toPortal(format rdp.ClipboardFormat, data []byte, mime string) ([]byte, error) {
	switch {
	case mime == MimeTextUTF8 || mime == MimeTextPlain:
		return utf16ToUTF8(data)
	case mime == MimePNG && format.Name == rdp.FormatNamePNG:
		return data, nil
	case mime == MimePNG:
		return dibToPNG(data)
	case mime == MimeHTML:
		return cfHTMLToHTML(data), nil
	default:
		return nil, fmt.Errorf("clipboard: no conversion from %v to %s", format, mime)
	}
}

// fromPortal converts a portal payload into the representation of the
// requested local format.
func fromPortal(mime string, data []byte, id rdp.FormatID) ([]byte, error) {
	switch {
	case id == rdp.CFUnicodeText:
		return utf8ToUTF16(data)
	case id == rdp.CFDIB || id == rdp.CFDIBV5:
		return pngToDIB(data)
	case id == localHTMLFormatID:
		return htmlToCFHTML(data), nil
	default:
		return nil, fmt.Errorf("clipboard: no conversion from %s to format 0x%04X", mime, uint32(id))
	}
}
