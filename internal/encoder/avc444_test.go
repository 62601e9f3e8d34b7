package encoder

import (
	"errors"
	"testing"
	"time"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

// Distinct bitrates let the stub tell subframes apart: the engine sets the
// stream bitrate before each subframe encode.
const (
	testMainBitrate = 2_000_000
	testAuxBitrate  = 1_000_000
)

// stubBackend records encode calls so tests can assert subframe order and
// IDR forcing.
type stubBackend struct {
	calls   []stubCall
	err     error
	bitrate int
	closed  bool
}

type stubCall struct {
	idr bool
	aux bool
}

func (s *stubBackend) Encode(pic *YUVPicture, forceIDR bool) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, stubCall{idr: forceIDR, aux: s.bitrate == testAuxBitrate})
	return []byte{0x00, 0x00, 0x00, 0x01, 0x65}, nil
}

func (s *stubBackend) SetBitrate(bps int) error { s.bitrate = bps; return nil }
func (s *stubBackend) Close() error             { s.closed = true; return nil }
func (s *stubBackend) Name() string             { return "stub" }

func newTestAVC444(stub *stubBackend, threshold float64, maxInterval int) *AVC444Encoder {
	return &AVC444Encoder{
		cfg: AVC444Config{
			Width: 8, Height: 8, FPS: 30,
			MainBitrate:        testMainBitrate,
			AuxBitrate:         testAuxBitrate,
			AuxChangeThreshold: threshold,
			MaxAuxInterval:     maxInterval,
		},
		backend: stub,
	}
}

func grayUpdate(w, h int, lum byte) *rdp.BitmapUpdate {
	data := make([]byte, w*h*4)
	for i := 0; i < len(data); i += 4 {
		data[i] = lum
		data[i+1] = lum
		data[i+2] = lum
		data[i+3] = 0xFF
	}
	return &rdp.BitmapUpdate{Width: w, Height: h, Stride: w * 4, Format: rdp.PixelFormatBgrX32, Data: data}
}

func TestAVC444FirstFrameCarriesBoth(t *testing.T) {
	stub := &stubBackend{}
	e := newTestAVC444(stub, 0.05, 30)

	frame, err := e.Encode(grayUpdate(8, 8, 100), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame.Carriage != rdp.CarriageLumaAndChroma {
		t.Fatalf("carriage = %d, want LumaAndChroma", frame.Carriage)
	}
	if frame.Aux == nil || len(frame.ChromaRegions) == 0 {
		t.Fatal("first frame must carry the aux stream")
	}
	// Main precedes Aux through the single backend instance.
	if len(stub.calls) != 2 || stub.calls[0].aux || !stub.calls[1].aux {
		t.Fatalf("call order wrong: %+v", stub.calls)
	}
}

func TestAVC444AuxOmissionSteadyState(t *testing.T) {
	stub := &stubBackend{}
	e := newTestAVC444(stub, 0.05, 30)

	// Static gray screen: luminance changes would not move chroma either
	// way, so aux emissions come solely from the max interval.
	emittedAux := 0
	lumaOnly := 0
	for i := 0; i < 300; i++ {
		frame, err := e.Encode(grayUpdate(8, 8, 100), false)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		switch frame.Carriage {
		case rdp.CarriageLumaAndChroma:
			emittedAux++
		case rdp.CarriageLumaOnly:
			lumaOnly++
			if frame.Aux != nil || len(frame.ChromaRegions) != 0 {
				t.Fatal("LumaOnly frame must omit aux stream and chroma regions")
			}
		}
	}
	if emittedAux != 10 {
		t.Fatalf("aux emissions = %d, want 10 (every 30 frames)", emittedAux)
	}
	if lumaOnly != 290 {
		t.Fatalf("luma-only frames = %d, want 290", lumaOnly)
	}

	// Every aux following an omission run must be an IDR.
	auxSeen := 0
	for _, c := range stub.calls {
		if c.aux {
			auxSeen++
			if auxSeen > 1 && !c.idr {
				t.Fatal("aux after omissions must be an IDR")
			}
		}
	}
}

func TestAVC444AuxReEmittedOnChromaChange(t *testing.T) {
	stub := &stubBackend{}
	e := newTestAVC444(stub, 0.05, 300)

	if _, err := e.Encode(grayUpdate(8, 8, 100), false); err != nil {
		t.Fatal(err)
	}
	// A strongly colored frame moves chroma everywhere.
	colored := grayUpdate(8, 8, 0)
	for i := 0; i < len(colored.Data); i += 4 {
		colored.Data[i] = 0xFF // blue channel
	}
	frame, err := e.Encode(colored, false)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Carriage != rdp.CarriageLumaAndChroma {
		t.Fatal("chroma change above threshold must re-emit aux")
	}
}

func TestAVC444ForceIDRBypassesOmission(t *testing.T) {
	stub := &stubBackend{}
	e := newTestAVC444(stub, 0.05, 30)

	e.Encode(grayUpdate(8, 8, 100), false)
	frame, err := e.Encode(grayUpdate(8, 8, 100), true)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Carriage != rdp.CarriageLumaAndChroma {
		t.Fatal("forced refresh must carry both subframes")
	}
	last := stub.calls[len(stub.calls)-1]
	if !last.aux || !last.idr {
		t.Fatalf("forced refresh aux must be IDR: %+v", last)
	}
}

func TestEncoderFacadeBitmapFallback(t *testing.T) {
	// No backend registered in tests: the facade must fall back.
	e := New(Config{Width: 8, Height: 8, FPS: 30, MainBitrate: 1})
	if e.UsingH264() {
		t.Fatal("expected bitmap fallback without a backend")
	}

	up := grayUpdate(8, 8, 50)
	out, err := e.Encode(up, false, time.Now(), 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out != rdp.DisplayUpdate(up) {
		t.Fatal("bitmap path must pass the update through")
	}
}

func TestEncoderFacadeFailureEscalation(t *testing.T) {
	stub := &stubBackend{err: errors.New("encode broken")}
	e := &Encoder{avc: newTestAVC444(stub, 0.05, 30)}

	up := grayUpdate(8, 8, 50)
	for i := 0; i < 2; i++ {
		out, err := e.Encode(up, false, time.Now(), uint64(i))
		if err != nil || out != nil {
			t.Fatalf("failure %d must be absorbed: out=%v err=%v", i, out, err)
		}
	}
	if _, err := e.Encode(up, false, time.Now(), 3); !errors.Is(err, ErrFatal) {
		t.Fatalf("third consecutive failure must be fatal, got %v", err)
	}
}

func TestEncoderFacadeFailureCounterResets(t *testing.T) {
	stub := &stubBackend{err: errors.New("encode broken")}
	e := &Encoder{avc: newTestAVC444(stub, 0.05, 30)}

	up := grayUpdate(8, 8, 50)
	e.Encode(up, false, time.Now(), 1)
	e.Encode(up, false, time.Now(), 2)
	stub.err = nil
	if _, err := e.Encode(up, false, time.Now(), 3); err != nil {
		t.Fatalf("recovered encode must succeed: %v", err)
	}
	stub.err = errors.New("broken again")
	if _, err := e.Encode(up, false, time.Now(), 4); err != nil {
		t.Fatal("counter must reset after a success")
	}
}

func TestPickLevel(t *testing.T) {
	tests := []struct {
		name          string
		w, h, fps     int
		max           Level
		want          Level
	}{
		{"720p30", 1280, 720, 30, LevelAuto, Level31},
		{"1080p30", 1920, 1080, 30, LevelAuto, Level40},
		{"1080p60", 1920, 1080, 60, LevelAuto, Level42},
		{"4k30", 3840, 2160, 30, LevelAuto, Level51},
		{"override caps", 3840, 2160, 30, Level41, Level41},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickLevel(tt.w, tt.h, tt.fps, tt.max); got != tt.want {
				t.Fatalf("PickLevel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestYUVWhitePixel(t *testing.T) {
	y, u, v := yuvFromPixel(255, 255, 255)
	if y != 235 {
		t.Fatalf("white Y = %d, want 235", y)
	}
	if u < 126 || u > 130 || v < 126 || v > 130 {
		t.Fatalf("white chroma = %d,%d, want neutral", u, v)
	}
}

func TestAuxPictureGeometryMatchesMain(t *testing.T) {
	data := make([]byte, 8*8*4)
	planes := convertBGRx444(data, 8, 8, 32)
	main := planes.mainPicture()
	aux := planes.auxPicture()
	if main.Width != aux.Width || main.Height != aux.Height {
		t.Fatal("aux geometry must match main so one encoder serves both")
	}
	if len(aux.Y) != len(main.Y) {
		t.Fatal("aux luma plane size must match main")
	}
}
