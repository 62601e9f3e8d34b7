package rdp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFormatListMsgTypeBytes(t *testing.T) {
	pdu := EncodeFormatList([]ClipboardFormat{{ID: CFUnicodeText}})
	raw := pdu.Encode()
	// msgType 0x0002 little-endian at offset 0.
	if raw[0] != 0x02 || raw[1] != 0x00 {
		t.Fatalf("FormatList msgType bytes = %02x %02x, want 02 00", raw[0], raw[1])
	}
}

func TestFormatListRoundTrip(t *testing.T) {
	in := []ClipboardFormat{
		{ID: CFUnicodeText},
		{ID: CFDIB},
		{ID: 0xC004, Name: FormatNameHTML},
		{ID: 0xC005, Name: FormatNameFileGroupW},
	}
	pdu := EncodeFormatList(in)

	decoded, err := DecodePDU(pdu.Encode())
	if err != nil {
		t.Fatalf("DecodePDU: %v", err)
	}
	if decoded.Type != MsgFormatList {
		t.Fatalf("type = 0x%04X, want FormatList", decoded.Type)
	}

	out, err := DecodeFormatList(decoded.Data)
	if err != nil {
		t.Fatalf("DecodeFormatList: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d formats, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("format %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestDecodeFormatListTruncatedName(t *testing.T) {
	// A format entry whose name never terminates.
	body := make([]byte, 6)
	binary.LittleEndian.PutUint32(body, uint32(CFUnicodeText))
	binary.LittleEndian.PutUint16(body[4:], 'a')
	if _, err := DecodeFormatList(body); err == nil {
		t.Fatal("expected error for unterminated name")
	}
}

func TestDecodePDUShort(t *testing.T) {
	if _, err := DecodePDU([]byte{0x02, 0x00, 0x00}); err == nil {
		t.Fatal("expected error for short header")
	}

	// Header claims more data than present.
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint16(hdr, MsgFormatList)
	binary.LittleEndian.PutUint32(hdr[4:], 100)
	if _, err := DecodePDU(hdr); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestFormatDataResponseFlags(t *testing.T) {
	ok := EncodeFormatDataResponse([]byte("hi"), true)
	if ok.Flags != FlagResponseOK || !bytes.Equal(ok.Data, []byte("hi")) {
		t.Fatalf("ok response wrong: %+v", ok)
	}
	fail := EncodeFormatDataResponse([]byte("hi"), false)
	if fail.Flags != FlagResponseFail || len(fail.Data) != 0 {
		t.Fatalf("fail response must carry no data: %+v", fail)
	}
}

func TestFileContentsRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  FileContentsRequest
	}{
		{"size query", FileContentsRequest{StreamID: 7, ListIndex: 0, Flags: FileContentsSize, SizeRequired: 8}},
		{"range query", FileContentsRequest{StreamID: 8, ListIndex: 2, Flags: FileContentsRange, Position: 1 << 33, SizeRequired: 65536}},
		{"with clip data id", FileContentsRequest{StreamID: 9, Flags: FileContentsRange, ClipDataID: 4, HasClipData: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu := tt.req.Encode()
			out, err := DecodeFileContentsRequest(pdu.Data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if *out != tt.req {
				t.Fatalf("round trip = %+v, want %+v", *out, tt.req)
			}
		})
	}
}

func TestFileContentsRequestSizeQueryFlag(t *testing.T) {
	req := FileContentsRequest{Flags: FileContentsSize}
	if !req.IsSizeQuery() {
		t.Fatal("size flag not detected")
	}
	req.Flags = FileContentsRange
	if req.IsSizeQuery() {
		t.Fatal("range query misdetected as size query")
	}
}

func TestFileGroupDescriptorRoundTrip(t *testing.T) {
	in := []FileDescriptor{
		{Name: "report.pdf", Size: 123456},
		{Name: "данные.txt", Size: 1<<32 + 5},
	}
	data := EncodeFileGroupDescriptor(in)
	out, err := DecodeFileGroupDescriptor(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d entries, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestLumaOnlyFrameShape(t *testing.T) {
	f := &AVC444Frame{Main: []byte{1}, Carriage: CarriageLumaOnly}
	if f.Aux != nil || len(f.ChromaRegions) != 0 {
		t.Fatal("LumaOnly frame must carry no aux stream or chroma regions")
	}
}
