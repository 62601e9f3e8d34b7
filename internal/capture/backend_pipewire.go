//go:build linux && pipewire

package capture

/*
#cgo pkg-config: libpipewire-0.3
#include <pipewire/pipewire.h>
#include <spa/param/video/format-utils.h>
#include <spa/param/video/type-info.h>
#include <stdlib.h>
#include <string.h>

extern void goStreamParamChanged(void *data, uint32_t w, uint32_t h, uint32_t format);
extern void goStreamProcess(void *data, void *pixels, uint32_t size, uint32_t stride);
extern void goStreamError(void *data, const char *message);

static void on_param_changed(void *data, uint32_t id, const struct spa_pod *param) {
	if (param == NULL || id != SPA_PARAM_Format) {
		return;
	}
	struct spa_video_info info;
	memset(&info, 0, sizeof(info));
	if (spa_format_parse(param, &info.media_type, &info.media_subtype) < 0) {
		return;
	}
	if (info.media_type != SPA_MEDIA_TYPE_video ||
	    info.media_subtype != SPA_MEDIA_SUBTYPE_raw) {
		return;
	}
	if (spa_format_video_raw_parse(param, &info.info.raw) < 0) {
		return;
	}
	goStreamParamChanged(data,
		info.info.raw.size.width,
		info.info.raw.size.height,
		(uint32_t)info.info.raw.format);
}

static void on_process(void *data) {
	struct pw_stream *stream = *(struct pw_stream **)data;
	if (stream == NULL) {
		return;
	}
	struct pw_buffer *b = pw_stream_dequeue_buffer(stream);
	if (b == NULL) {
		return;
	}
	struct spa_buffer *buf = b->buffer;
	if (buf->datas[0].data != NULL) {
		goStreamProcess(data,
			buf->datas[0].data,
			buf->datas[0].chunk->size,
			buf->datas[0].chunk->stride);
	}
	pw_stream_queue_buffer(stream, b);
}

static void on_stream_error(void *data, int seq, int res, const char *message) {
	goStreamError(data, message);
}

struct stream_box {
	struct pw_stream *stream;
	uintptr_t handle;
};

static const struct pw_stream_events stream_events = {
	PW_VERSION_STREAM_EVENTS,
	.param_changed = on_param_changed,
	.process = on_process,
	.error = on_stream_error,
};

static struct pw_stream *create_stream(struct pw_core *core, uint32_t node,
		struct stream_box *box, struct spa_hook *listener) {
	struct pw_stream *stream = pw_stream_new(core, "wayrdp-capture",
		pw_properties_new(
			PW_KEY_MEDIA_TYPE, "Video",
			PW_KEY_MEDIA_CATEGORY, "Capture",
			PW_KEY_MEDIA_ROLE, "Screen",
			NULL));
	if (stream == NULL) {
		return NULL;
	}
	box->stream = stream;
	pw_stream_add_listener(stream, listener, &stream_events, box);

	uint8_t buffer[1024];
	struct spa_pod_builder b = SPA_POD_BUILDER_INIT(buffer, sizeof(buffer));
	const struct spa_pod *params[1];
	params[0] = spa_pod_builder_add_object(&b,
		SPA_TYPE_OBJECT_Format, SPA_PARAM_EnumFormat,
		SPA_FORMAT_mediaType, SPA_POD_Id(SPA_MEDIA_TYPE_video),
		SPA_FORMAT_mediaSubtype, SPA_POD_Id(SPA_MEDIA_SUBTYPE_raw),
		SPA_FORMAT_VIDEO_format, SPA_POD_CHOICE_ENUM_Id(5,
			SPA_VIDEO_FORMAT_BGRA,
			SPA_VIDEO_FORMAT_BGRx,
			SPA_VIDEO_FORMAT_RGB16,
			SPA_VIDEO_FORMAT_RGB15,
			SPA_VIDEO_FORMAT_BGRA),
		SPA_FORMAT_VIDEO_size, SPA_POD_CHOICE_RANGE_Rectangle(
			&SPA_RECTANGLE(1920, 1080),
			&SPA_RECTANGLE(1, 1),
			&SPA_RECTANGLE(8192, 8192)));

	if (pw_stream_connect(stream, PW_DIRECTION_INPUT, node,
			PW_STREAM_FLAG_AUTOCONNECT | PW_STREAM_FLAG_MAP_BUFFERS,
			params, 1) < 0) {
		pw_stream_destroy(stream);
		box->stream = NULL;
		return NULL;
	}
	return stream;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

func init() {
	RegisterBackend(newPipeWireHandle)
}

// pipewireHandle owns a pw_loop + pw_context + pw_core triple. All calls
// happen on the driver's capture thread; the cgo callbacks fire inside
// Iterate on that same thread.
type pipewireHandle struct {
	loop    *C.struct_pw_loop
	context *C.struct_pw_context
	core    *C.struct_pw_core
}

var pwInitOnce sync.Once

func newPipeWireHandle() (Handle, error) {
	pwInitOnce.Do(func() {
		C.pw_init(nil, nil)
	})
	loop := C.pw_loop_new(nil)
	if loop == nil {
		return nil, fmt.Errorf("capture: pw_loop_new failed")
	}
	ctx := C.pw_context_new(loop, nil, 0)
	if ctx == nil {
		C.pw_loop_destroy(loop)
		return nil, fmt.Errorf("capture: pw_context_new failed")
	}
	return &pipewireHandle{loop: loop, context: ctx}, nil
}

func (h *pipewireHandle) Connect(captureFD int) error {
	core := C.pw_context_connect_fd(h.context, C.int(captureFD), nil, 0)
	if core == nil {
		return fmt.Errorf("capture: pw_context_connect_fd failed")
	}
	h.core = core
	return nil
}

// streamBoxes pins callback state for the lifetime of each stream; cgo
// callbacks receive the box pointer and look the Go side up here.
var (
	streamBoxMu sync.Mutex
	streamBoxes = map[uintptr]*pipewireStream{}
	streamBoxID uintptr
)

type pipewireStream struct {
	box      *C.struct_stream_box
	listener *C.struct_spa_hook
	cb       StreamCallbacks
	info     StreamInfo
	haveInfo bool
}

func (h *pipewireHandle) CreateStream(nodeID uint32, cb StreamCallbacks) (Stream, error) {
	if h.core == nil {
		return nil, fmt.Errorf("capture: not connected")
	}

	box := (*C.struct_stream_box)(C.calloc(1, C.sizeof_struct_stream_box))
	listener := (*C.struct_spa_hook)(C.calloc(1, C.sizeof_struct_spa_hook))

	ps := &pipewireStream{box: box, listener: listener, cb: cb}
	streamBoxMu.Lock()
	streamBoxID++
	box.handle = C.uintptr_t(streamBoxID)
	streamBoxes[uintptr(streamBoxID)] = ps
	streamBoxMu.Unlock()

	if C.create_stream(h.core, C.uint32_t(nodeID), box, listener) == nil {
		streamBoxMu.Lock()
		delete(streamBoxes, uintptr(box.handle))
		streamBoxMu.Unlock()
		C.free(unsafe.Pointer(listener))
		C.free(unsafe.Pointer(box))
		return nil, fmt.Errorf("capture: stream connect failed for node %d", nodeID)
	}
	return ps, nil
}

func (h *pipewireHandle) Iterate(timeout time.Duration) error {
	if res := C.pw_loop_iterate(h.loop, C.int(timeout.Milliseconds())); res < 0 {
		return fmt.Errorf("capture: pw_loop_iterate: %d", int(res))
	}
	return nil
}

func (h *pipewireHandle) Close() error {
	if h.core != nil {
		C.pw_core_disconnect(h.core)
		h.core = nil
	}
	if h.context != nil {
		C.pw_context_destroy(h.context)
		h.context = nil
	}
	if h.loop != nil {
		C.pw_loop_destroy(h.loop)
		h.loop = nil
	}
	return nil
}

func (ps *pipewireStream) Close() error {
	if ps.box != nil && ps.box.stream != nil {
		C.pw_stream_destroy(ps.box.stream)
		ps.box.stream = nil
	}
	streamBoxMu.Lock()
	delete(streamBoxes, uintptr(ps.box.handle))
	streamBoxMu.Unlock()
	C.free(unsafe.Pointer(ps.listener))
	C.free(unsafe.Pointer(ps.box))
	ps.box = nil
	return nil
}

func lookupStream(data unsafe.Pointer) *pipewireStream {
	box := (*C.struct_stream_box)(data)
	streamBoxMu.Lock()
	defer streamBoxMu.Unlock()
	return streamBoxes[uintptr(box.handle)]
}

// spaFormat maps negotiated SPA video formats onto the pipeline's formats.
func spaFormat(v uint32) PixelFormat {
	switch v {
	case C.SPA_VIDEO_FORMAT_BGRx:
		return BGRx8888
	case C.SPA_VIDEO_FORMAT_RGB16:
		return RGB16
	case C.SPA_VIDEO_FORMAT_RGB15:
		return RGB15
	default:
		return BGRA8888
	}
}

//export goStreamParamChanged
func goStreamParamChanged(data unsafe.Pointer, w, h, format C.uint32_t) {
	ps := lookupStream(data)
	if ps == nil {
		return
	}
	pf := spaFormat(uint32(format))
	ps.info = StreamInfo{
		Width:  int(w),
		Height: int(h),
		// The per-buffer chunk stride is authoritative; this placeholder
		// is replaced on the first processed buffer.
		Stride: int(w) * pf.BytesPerPixel(),
		Format: pf,
	}
	ps.haveInfo = true
	if ps.cb.FormatChanged != nil {
		ps.cb.FormatChanged(ps.info)
	}
}

//export goStreamProcess
func goStreamProcess(data unsafe.Pointer, pixels unsafe.Pointer, size, stride C.uint32_t) {
	ps := lookupStream(data)
	if ps == nil || !ps.haveInfo || ps.cb.Process == nil {
		return
	}
	if int(stride) > 0 && int(stride) != ps.info.Stride {
		// Hardware-reported row pitch supersedes the negotiated guess.
		ps.info.Stride = int(stride)
		if ps.cb.FormatChanged != nil {
			ps.cb.FormatChanged(ps.info)
		}
	}

	// The buffer is only valid during the process callback; copy out.
	buf := C.GoBytes(pixels, C.int(size))
	ps.cb.Process(&Frame{
		Width:  ps.info.Width,
		Height: ps.info.Height,
		Stride: ps.info.Stride,
		Format: ps.info.Format,
		Kind:   BufferOwned,
		Data:   buf,
	})
}

//export goStreamError
func goStreamError(data unsafe.Pointer, message *C.char) {
	ps := lookupStream(data)
	if ps == nil || ps.cb.StateError == nil {
		return
	}
	ps.cb.StateError(fmt.Errorf("pipewire: %s", C.GoString(message)))
}
