package clipboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

// fileChunkSize is the range size requested per FileContentsRequest.
const fileChunkSize = 64 * 1024

// fileServer answers FileContentsRequests for files this side offered to
// the RDP client (compositor → Windows direction).
type fileServer struct {
	mu    sync.Mutex
	paths []string
}

func (s *fileServer) setPaths(paths []string) {
	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()
}

// descriptors builds the FileGroupDescriptorW entries for the offered
// paths, dropping entries that cannot be stat'ed.
func (s *fileServer) descriptors() []rdp.FileDescriptor {
	s.mu.Lock()
	paths := s.paths
	s.mu.Unlock()

	var files []rdp.FileDescriptor
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			log.Warn("Skipping unreadable clipboard file", "path", p, "error", err)
			continue
		}
		files = append(files, rdp.FileDescriptor{Name: filepath.Base(p), Size: uint64(info.Size())})
	}
	return files
}

// handle answers one request against the offered file list.
func (s *fileServer) handle(req *rdp.FileContentsRequest) *rdp.FileContentsResponse {
	s.mu.Lock()
	paths := s.paths
	s.mu.Unlock()

	resp := &rdp.FileContentsResponse{StreamID: req.StreamID}
	if int(req.ListIndex) >= len(paths) {
		return resp
	}
	path := paths[req.ListIndex]

	if req.IsSizeQuery() {
		info, err := os.Stat(path)
		if err != nil {
			return resp
		}
		size := make([]byte, 8)
		for i := 0; i < 8; i++ {
			size[i] = byte(uint64(info.Size()) >> (8 * i))
		}
		resp.Data = size
		resp.OK = true
		return resp
	}

	f, err := os.Open(path)
	if err != nil {
		return resp
	}
	defer f.Close()

	n := int(req.SizeRequired)
	if n <= 0 || n > fileChunkSize*16 {
		n = fileChunkSize
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, int64(req.Position))
	if err != nil && read == 0 {
		return resp
	}
	resp.Data = buf[:read]
	resp.OK = true
	return resp
}

// fileFetcher pulls a file group from the RDP client into a staging
// directory (Windows → compositor direction). Requests are issued
// sequentially; responses arrive through deliver.
type fileFetcher struct {
	channel rdp.CliprdrChannel
	timeout time.Duration

	mu         sync.Mutex
	waiters    map[uint32]chan *rdp.FileContentsResponse
	nextStream uint32
	clipData   uint32
}

func newFileFetcher(channel rdp.CliprdrChannel, timeout time.Duration) *fileFetcher {
	return &fileFetcher{
		channel: channel,
		timeout: timeout,
		waiters: make(map[uint32]chan *rdp.FileContentsResponse),
	}
}

// deliver routes a FileContentsResponse to its waiting request.
func (f *fileFetcher) deliver(resp *rdp.FileContentsResponse) {
	f.mu.Lock()
	ch, ok := f.waiters[resp.StreamID]
	delete(f.waiters, resp.StreamID)
	f.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// fetchAll stages every file of the group and returns the staged paths.
// Lock/unlock PDUs bracket the whole group transfer.
func (f *fileFetcher) fetchAll(files []rdp.FileDescriptor, dir string) ([]string, error) {
	f.mu.Lock()
	f.clipData++
	clipID := f.clipData
	f.mu.Unlock()

	if err := f.channel.SendLock(clipID); err != nil {
		return nil, fmt.Errorf("clipboard: lock clip data: %w", err)
	}
	defer func() {
		if err := f.channel.SendUnlock(clipID); err != nil {
			log.Warn("Unlock clip data failed", "error", err)
		}
	}()

	paths := make([]string, 0, len(files))
	for i, fd := range files {
		path, err := f.fetchOne(uint32(i), fd, dir, clipID)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (f *fileFetcher) fetchOne(listIndex uint32, fd rdp.FileDescriptor, dir string, clipID uint32) (string, error) {
	name := filepath.Base(fd.Name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("clipboard-file-%d", listIndex)
	}
	path := filepath.Join(dir, name)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("clipboard: stage file: %w", err)
	}
	defer out.Close()

	var offset uint64
	for offset < fd.Size {
		want := uint32(fileChunkSize)
		if remaining := fd.Size - offset; remaining < uint64(want) {
			want = uint32(remaining)
		}
		resp, err := f.roundTrip(&rdp.FileContentsRequest{
			ListIndex:    listIndex,
			Flags:        rdp.FileContentsRange,
			Position:     offset,
			SizeRequired: want,
			ClipDataID:   clipID,
			HasClipData:  true,
		})
		if err != nil {
			return "", err
		}
		if !resp.OK || len(resp.Data) == 0 {
			return "", fmt.Errorf("clipboard: file transfer failed at offset %d", offset)
		}
		if _, err := out.Write(resp.Data); err != nil {
			return "", fmt.Errorf("clipboard: stage write: %w", err)
		}
		offset += uint64(len(resp.Data))
	}
	return path, nil
}

func (f *fileFetcher) roundTrip(req *rdp.FileContentsRequest) (*rdp.FileContentsResponse, error) {
	ch := make(chan *rdp.FileContentsResponse, 1)
	f.mu.Lock()
	f.nextStream++
	req.StreamID = f.nextStream
	f.waiters[req.StreamID] = ch
	f.mu.Unlock()

	if err := f.channel.SendFileContentsRequest(req); err != nil {
		f.mu.Lock()
		delete(f.waiters, req.StreamID)
		f.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(f.timeout):
		f.mu.Lock()
		delete(f.waiters, req.StreamID)
		f.mu.Unlock()
		return nil, fmt.Errorf("clipboard: file contents request %d timed out", req.StreamID)
	}
}
