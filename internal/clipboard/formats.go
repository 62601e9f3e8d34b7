package clipboard

import "github.com/wayrdp/wayrdp/internal/rdp"

// Portal MIME types the broker bridges.
const (
	MimeTextUTF8 = "text/plain;charset=utf-8"
	MimeTextPlain = "text/plain"
	MimeHTML     = "text/html"
	MimePNG      = "image/png"
	MimeURIList  = "text/uri-list"
)

// Local registered-format IDs used when this side announces ownership.
// Registered IDs are connection-scoped; any value ≥ 0xC000 works as long
// as the name travels with it.
const (
	localHTMLFormatID      rdp.FormatID = 0xC001
	localFileGroupFormatID rdp.FormatID = 0xC002
	localFileContentsID    rdp.FormatID = 0xC003
)

// mimeForFormat maps an announced RDP format to the portal MIME type the
// broker serves it as. Returns ok=false for formats outside the bridged
// subset.
func mimeForFormat(f rdp.ClipboardFormat) (string, bool) {
	switch {
	case f.ID == rdp.CFUnicodeText:
		return MimeTextUTF8, true
	case f.ID == rdp.CFDIB || f.ID == rdp.CFDIBV5:
		return MimePNG, true
	case f.Name == rdp.FormatNameHTML:
		return MimeHTML, true
	case f.Name == rdp.FormatNamePNG:
		return MimePNG, true
	case f.Name == rdp.FormatNameFileGroupW || f.ID == rdp.CFHDrop:
		return MimeURIList, true
	default:
		return "", false
	}
}

// mimeSetForFormats maps a remote FormatList to the MIME set announced to
// the portal, preserving announcement order and dropping duplicates.
func mimeSetForFormats(formats []rdp.ClipboardFormat) []string {
	var mimes []string
	seen := make(map[string]bool)
	for _, f := range formats {
		mime, ok := mimeForFormat(f)
		if !ok || seen[mime] {
			continue
		}
		seen[mime] = true
		mimes = append(mimes, mime)
		// Text is additionally offered under the bare MIME type for
		// consumers that do not request a charset.
		if mime == MimeTextUTF8 && !seen[MimeTextPlain] {
			seen[MimeTextPlain] = true
			mimes = append(mimes, MimeTextPlain)
		}
	}
	return mimes
}

// remoteFormatForMime picks, from a remote FormatList, the format the
// broker requests to satisfy a portal transfer of the given MIME type.
func remoteFormatForMime(formats []rdp.ClipboardFormat, mime string) (rdp.ClipboardFormat, bool) {
	if mime == MimeTextPlain {
		mime = MimeTextUTF8
	}
	for _, f := range formats {
		if m, ok := mimeForFormat(f); ok && m == mime {
			return f, true
		}
	}
	return rdp.ClipboardFormat{}, false
}

// localFormatsForMimes maps a portal MIME set to the FormatList this side
// announces to the RDP client.
func localFormatsForMimes(mimes []string) []rdp.ClipboardFormat {
	var formats []rdp.ClipboardFormat
	seen := make(map[rdp.FormatID]bool)
	add := func(f rdp.ClipboardFormat) {
		if !seen[f.ID] {
			seen[f.ID] = true
			formats = append(formats, f)
		}
	}
	for _, mime := range mimes {
		switch mime {
		case MimeTextUTF8, MimeTextPlain, "UTF8_STRING", "STRING":
			add(rdp.ClipboardFormat{ID: rdp.CFUnicodeText})
		case MimePNG, "image/jpeg":
			add(rdp.ClipboardFormat{ID: rdp.CFDIB})
		case MimeHTML:
			add(rdp.ClipboardFormat{ID: localHTMLFormatID, Name: rdp.FormatNameHTML})
		case MimeURIList:
			add(rdp.ClipboardFormat{ID: localFileGroupFormatID, Name: rdp.FormatNameFileGroupW})
		}
	}
	return formats
}

// localMimeForFormatID resolves a FormatDataRequest against the formats
// this side announced.
func localMimeForFormatID(id rdp.FormatID) (string, bool) {
	switch id {
	case rdp.CFUnicodeText:
		return MimeTextUTF8, true
	case rdp.CFDIB, rdp.CFDIBV5:
		return MimePNG, true
	case localHTMLFormatID:
		return MimeHTML, true
	case localFileGroupFormatID:
		return MimeURIList, true
	default:
		return "", false
	}
}
