package rdp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// Cliprdr PDU message types (little-endian u16 at offset 0 of the PDU).
const (
	MsgClipCaps             uint16 = 0x0001
	MsgFormatList           uint16 = 0x0002
	MsgFormatListResponse   uint16 = 0x0003
	MsgFormatDataRequest    uint16 = 0x0004
	MsgFormatDataResponse   uint16 = 0x0005
	MsgTempDirectory        uint16 = 0x0007
	MsgFileContentsRequest  uint16 = 0x0008
	MsgFileContentsResponse uint16 = 0x0009
	MsgLockClipdata         uint16 = 0x000A
	MsgUnlockClipdata       uint16 = 0x000B
)

// Cliprdr PDU message flags.
const (
	FlagResponseOK   uint16 = 0x0001
	FlagResponseFail uint16 = 0x0002
	FlagASCIINames   uint16 = 0x0004
)

// FileContentsRequest dwFlags values.
const (
	FileContentsSize  uint32 = 0x00000001
	FileContentsRange uint32 = 0x00000002
)

// FormatID is an RDP clipboard format identifier.
type FormatID uint32

// Standard clipboard formats.
const (
	CFText        FormatID = 1
	CFBitmap      FormatID = 2
	CFDIB         FormatID = 8
	CFUnicodeText FormatID = 13
	CFHDrop       FormatID = 15
	CFDIBV5       FormatID = 17
)

// Registered format names carried in long-format-name FormatList entries.
const (
	FormatNameHTML            = "HTML Format"
	FormatNamePNG             = "PNG"
	FormatNameFileGroupW      = "FileGroupDescriptorW"
	FormatNameFileContents    = "FileContents"
	FormatNamePreferredEffect = "Preferred DropEffect"
)

// ClipboardFormat pairs a format ID with its registered name. Name is empty
// for standard formats.
type ClipboardFormat struct {
	ID   FormatID
	Name string
}

func (f ClipboardFormat) String() string {
	if f.Name != "" {
		return f.Name
	}
	switch f.ID {
	case CFText:
		return "CF_TEXT"
	case CFBitmap:
		return "CF_BITMAP"
	case CFDIB:
		return "CF_DIB"
	case CFUnicodeText:
		return "CF_UNICODETEXT"
	case CFHDrop:
		return "CF_HDROP"
	case CFDIBV5:
		return "CF_DIBV5"
	default:
		return fmt.Sprintf("format(0x%04X)", uint32(f.ID))
	}
}

// PDU is a cliprdr channel message: an 8-byte header followed by the body.
type PDU struct {
	Type  uint16
	Flags uint16
	Data  []byte
}

var (
	ErrShortPDU     = errors.New("cliprdr: truncated PDU")
	ErrPDUTooLarge  = errors.New("cliprdr: PDU exceeds maximum size")
	ErrBadFormatLst = errors.New("cliprdr: malformed format list")
)

// maxPDUSize bounds decoded bodies; cliprdr data is chunked well below this.
const maxPDUSize = 16 << 20

// Encode serializes the PDU with its header.
func (p *PDU) Encode() []byte {
	buf := make([]byte, 8+len(p.Data))
	binary.LittleEndian.PutUint16(buf[0:], p.Type)
	binary.LittleEndian.PutUint16(buf[2:], p.Flags)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(p.Data)))
	copy(buf[8:], p.Data)
	return buf
}

// DecodePDU parses one PDU from raw. Trailing bytes beyond dataLen are
// ignored (channel chunking may pad).
func DecodePDU(raw []byte) (*PDU, error) {
	if len(raw) < 8 {
		return nil, ErrShortPDU
	}
	dataLen := binary.LittleEndian.Uint32(raw[4:])
	if dataLen > maxPDUSize {
		return nil, ErrPDUTooLarge
	}
	if len(raw) < 8+int(dataLen) {
		return nil, ErrShortPDU
	}
	return &PDU{
		Type:  binary.LittleEndian.Uint16(raw[0:]),
		Flags: binary.LittleEndian.Uint16(raw[2:]),
		Data:  raw[8 : 8+dataLen],
	}, nil
}

// EncodeFormatList builds a FormatList PDU body using long format names
// (u32 id + UTF-16LE NUL-terminated name per entry).
func EncodeFormatList(formats []ClipboardFormat) *PDU {
	var buf bytes.Buffer
	for _, f := range formats {
		var id [4]byte
		binary.LittleEndian.PutUint32(id[:], uint32(f.ID))
		buf.Write(id[:])
		for _, u := range utf16.Encode([]rune(f.Name)) {
			var cu [2]byte
			binary.LittleEndian.PutUint16(cu[:], u)
			buf.Write(cu[:])
		}
		buf.Write([]byte{0, 0})
	}
	return &PDU{Type: MsgFormatList, Data: buf.Bytes()}
}

// DecodeFormatList parses a long-format-name FormatList body.
func DecodeFormatList(data []byte) ([]ClipboardFormat, error) {
	var formats []ClipboardFormat
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, ErrBadFormatLst
		}
		id := FormatID(binary.LittleEndian.Uint32(data))
		data = data[4:]

		var units []uint16
		for {
			if len(data) < 2 {
				return nil, ErrBadFormatLst
			}
			u := binary.LittleEndian.Uint16(data)
			data = data[2:]
			if u == 0 {
				break
			}
			units = append(units, u)
		}
		formats = append(formats, ClipboardFormat{ID: id, Name: string(utf16.Decode(units))})
	}
	return formats, nil
}

// EncodeFormatDataRequest builds a FormatDataRequest PDU.
func EncodeFormatDataRequest(id FormatID) *PDU {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, uint32(id))
	return &PDU{Type: MsgFormatDataRequest, Data: body}
}

// DecodeFormatDataRequest parses the requested format ID.
func DecodeFormatDataRequest(data []byte) (FormatID, error) {
	if len(data) < 4 {
		return 0, ErrShortPDU
	}
	return FormatID(binary.LittleEndian.Uint32(data)), nil
}

// EncodeFormatDataResponse builds a FormatDataResponse PDU. ok selects the
// response flag; a failed response carries no data.
func EncodeFormatDataResponse(data []byte, ok bool) *PDU {
	p := &PDU{Type: MsgFormatDataResponse}
	if ok {
		p.Flags = FlagResponseOK
		p.Data = data
	} else {
		p.Flags = FlagResponseFail
	}
	return p
}

// FileContentsRequest asks for file metadata (FileContentsSize) or a byte
// range (FileContentsRange) of one entry in the announced file group.
type FileContentsRequest struct {
	StreamID     uint32
	ListIndex    uint32
	Flags        uint32
	Position     uint64
	SizeRequired uint32
	ClipDataID   uint32
	HasClipData  bool
}

// IsSizeQuery reports whether the request asks for the file size only.
func (r *FileContentsRequest) IsSizeQuery() bool {
	return r.Flags&FileContentsSize != 0
}

// Encode builds the FileContentsRequest PDU.
func (r *FileContentsRequest) Encode() *PDU {
	size := 24
	if r.HasClipData {
		size = 28
	}
	body := make([]byte, size)
	binary.LittleEndian.PutUint32(body[0:], r.StreamID)
	binary.LittleEndian.PutUint32(body[4:], r.ListIndex)
	binary.LittleEndian.PutUint32(body[8:], r.Flags)
	binary.LittleEndian.PutUint32(body[12:], uint32(r.Position))
	binary.LittleEndian.PutUint32(body[16:], uint32(r.Position>>32))
	binary.LittleEndian.PutUint32(body[20:], r.SizeRequired)
	if r.HasClipData {
		binary.LittleEndian.PutUint32(body[24:], r.ClipDataID)
	}
	return &PDU{Type: MsgFileContentsRequest, Data: body}
}

// DecodeFileContentsRequest parses a FileContentsRequest body. The trailing
// clipDataID is optional on the wire.
func DecodeFileContentsRequest(data []byte) (*FileContentsRequest, error) {
	if len(data) < 24 {
		return nil, ErrShortPDU
	}
	req := &FileContentsRequest{
		StreamID:     binary.LittleEndian.Uint32(data[0:]),
		ListIndex:    binary.LittleEndian.Uint32(data[4:]),
		Flags:        binary.LittleEndian.Uint32(data[8:]),
		SizeRequired: binary.LittleEndian.Uint32(data[20:]),
	}
	req.Position = uint64(binary.LittleEndian.Uint32(data[12:])) |
		uint64(binary.LittleEndian.Uint32(data[16:]))<<32
	if len(data) >= 28 {
		req.ClipDataID = binary.LittleEndian.Uint32(data[24:])
		req.HasClipData = true
	}
	return req, nil
}

// FileContentsResponse carries the bytes (or size) answering a request.
type FileContentsResponse struct {
	StreamID uint32
	Data     []byte
	OK       bool
}

// Encode builds the FileContentsResponse PDU.
func (r *FileContentsResponse) Encode() *PDU {
	p := &PDU{Type: MsgFileContentsResponse}
	if r.OK {
		p.Flags = FlagResponseOK
		body := make([]byte, 4+len(r.Data))
		binary.LittleEndian.PutUint32(body, r.StreamID)
		copy(body[4:], r.Data)
		p.Data = body
	} else {
		p.Flags = FlagResponseFail
		body := make([]byte, 4)
		binary.LittleEndian.PutUint32(body, r.StreamID)
		p.Data = body
	}
	return p
}

// DecodeFileContentsResponse parses a FileContentsResponse body.
func DecodeFileContentsResponse(data []byte, flags uint16) (*FileContentsResponse, error) {
	if len(data) < 4 {
		return nil, ErrShortPDU
	}
	return &FileContentsResponse{
		StreamID: binary.LittleEndian.Uint32(data),
		Data:     data[4:],
		OK:       flags&FlagResponseFail == 0,
	}, nil
}

// EncodeLock builds a Lock or Unlock Clipboard Data PDU.
func EncodeLock(msgType uint16, clipDataID uint32) *PDU {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, clipDataID)
	return &PDU{Type: msgType, Data: body}
}

// File attribute bits used in FileGroupDescriptorW entries.
const (
	fdAttributes uint32 = 0x00000004 // dwFlags: FD_ATTRIBUTES
	fdFileSize   uint32 = 0x00000040 // dwFlags: FD_FILESIZE
	fdAttrNormal uint32 = 0x00000080 // FILE_ATTRIBUTE_NORMAL
)

// FileDescriptor is one entry of a FileGroupDescriptorW array.
type FileDescriptor struct {
	Name string
	Size uint64
}

const fileDescriptorSize = 592

// EncodeFileGroupDescriptor builds the FormatDataResponse payload for the
// FileGroupDescriptorW format: u32 count followed by fixed 592-byte entries.
func EncodeFileGroupDescriptor(files []FileDescriptor) []byte {
	out := make([]byte, 4+fileDescriptorSize*len(files))
	binary.LittleEndian.PutUint32(out, uint32(len(files)))
	for i, f := range files {
		entry := out[4+i*fileDescriptorSize:]
		binary.LittleEndian.PutUint32(entry[0:], fdAttributes|fdFileSize)
		binary.LittleEndian.PutUint32(entry[20:], fdAttrNormal)
		binary.LittleEndian.PutUint32(entry[64:], uint32(f.Size>>32)) // nFileSizeHigh
		binary.LittleEndian.PutUint32(entry[68:], uint32(f.Size))     // nFileSizeLow
		// cFileName: 260 UTF-16 code units, NUL-padded.
		units := utf16.Encode([]rune(f.Name))
		if len(units) > 259 {
			units = units[:259]
		}
		for j, u := range units {
			binary.LittleEndian.PutUint16(entry[72+2*j:], u)
		}
	}
	return out
}

// DecodeFileGroupDescriptor parses a FileGroupDescriptorW payload.
func DecodeFileGroupDescriptor(data []byte) ([]FileDescriptor, error) {
	if len(data) < 4 {
		return nil, ErrShortPDU
	}
	count := int(binary.LittleEndian.Uint32(data))
	if count < 0 || len(data) < 4+count*fileDescriptorSize {
		return nil, ErrShortPDU
	}
	files := make([]FileDescriptor, 0, count)
	for i := 0; i < count; i++ {
		entry := data[4+i*fileDescriptorSize:]
		size := uint64(binary.LittleEndian.Uint32(entry[64:]))<<32 |
			uint64(binary.LittleEndian.Uint32(entry[68:]))
		var units []uint16
		for j := 0; j < 260; j++ {
			u := binary.LittleEndian.Uint16(entry[72+2*j:])
			if u == 0 {
				break
			}
			units = append(units, u)
		}
		files = append(files, FileDescriptor{Name: string(utf16.Decode(units)), Size: size})
	}
	return files, nil
}
