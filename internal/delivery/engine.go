package delivery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrTooLarge reports a resource over the configured maximum transfer
// size. It is returned before any descriptor is built.
var ErrTooLarge = errors.New("file exceeds maximum transfer size")

// Descriptor carries everything the engine needs to answer one
// download request. It is built per request and never shared.
type Descriptor struct {
	Path      string
	Size      int64
	ModTime   time.Time
	MediaType string
	ETag      string
	Window    Window

	// Filename, when non-empty, is sent as a Content-Disposition
	// attachment name.
	Filename string
}

// Options configures an Engine.
type Options struct {
	// MaxFileSize rejects larger resources up front. Zero means
	// unlimited.
	MaxFileSize int64

	// StreamChunkSize is the buffer size of the portable copy loop.
	StreamChunkSize int

	// SendfileChunkSize bounds a single kernel sendfile call so one
	// call never pins the socket for an unbounded stretch.
	SendfileChunkSize int64

	// DisableSendfile forces the portable copy loop even where the
	// platform supports kernel copies. Used by tests.
	DisableSendfile bool
}

// Engine streams file windows to HTTP clients. The transfer strategy
// is resolved once at construction: on platforms with a kernel
// file-to-socket copy the engine hijacks eligible connections and
// drives sendfile directly, everywhere else (and for requests that
// cannot be hijacked) it falls back to a bounded buffered loop. The
// engine holds no per-request state.
type Engine struct {
	maxFileSize int64
	chunkSize   int
	copier      rawCopier
	log         *slog.Logger
}

// rawCopier is the kernel-assisted transfer capability. A nil rawCopier
// means the platform has none.
type rawCopier interface {
	// serve takes over the connection and transmits head plus the
	// descriptor's window of f. It reports false when this request
	// cannot be served raw and the caller should use the portable
	// path; once it returns true the response is complete.
	serve(w http.ResponseWriter, f *os.File, d *Descriptor, head []byte) (int64, bool)
}

// New builds an Engine, performing the platform capability probe
// exactly once.
func New(opts Options) *Engine {
	e := &Engine{
		maxFileSize: opts.MaxFileSize,
		chunkSize:   opts.StreamChunkSize,
		log:         slog.Default().With("component", "delivery"),
	}
	if e.chunkSize <= 0 {
		e.chunkSize = 256 << 10
	}
	chunk := opts.SendfileChunkSize
	if chunk <= 0 {
		chunk = 64 << 20
	}
	if !opts.DisableSendfile {
		e.copier = platformCopier(chunk, e.log)
	}
	return e
}

// Describe validates the resource against the size limit and the Range
// header and builds the transfer descriptor. ErrTooLarge and
// ErrUnsatisfiable surface here, before anything is written.
func (e *Engine) Describe(path string, info fs.FileInfo, rangeHeader, filename string) (*Descriptor, error) {
	if e.maxFileSize > 0 && info.Size() > e.maxFileSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size(), e.maxFileSize)
	}
	window, err := NegotiateRange(rangeHeader, info.Size())
	if err != nil {
		return nil, err
	}

	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return &Descriptor{
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		MediaType: mediaType,
		ETag:      fmt.Sprintf("\"%x-%x\"", info.ModTime().UnixNano(), info.Size()),
		Window:    window,
		Filename:  filename,
	}, nil
}

// Serve transmits the descriptor's window to the client. Errors are
// returned only while the response is still uncommitted (open or
// permission failures); once headers are out, a broken transfer ends
// silently. The returned count is the number of body bytes handed to
// the transport.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, d *Descriptor) (int64, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		// The file was stat-able moments ago; it may have vanished
		// or be unreadable. Headers are not out yet, so this still
		// maps to a client-facing status.
		return 0, err
	}
	defer f.Close()

	if e.copier != nil && r.Method == http.MethodGet && r.ProtoMajor == 1 {
		if sent, done := e.copier.serve(w, f, d, d.head(r.Proto)); done {
			return sent, nil
		}
	}

	d.writeHeader(w.Header())
	if d.Window.Partial {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method == http.MethodHead {
		return 0, nil
	}
	return e.bufferedCopy(w, f, d), nil
}

// bufferedCopy streams the window one chunk at a time. It never holds
// more than one chunk in memory. A short or failed write means the
// client went away; the loop stops without error since the status is
// already committed.
func (e *Engine) bufferedCopy(w io.Writer, f *os.File, d *Descriptor) int64 {
	if _, err := f.Seek(d.Window.Start, io.SeekStart); err != nil {
		e.log.Warn("seek failed mid-transfer", "path", d.Path, "error", err)
		return 0
	}

	buf := make([]byte, e.chunkSize)
	var sent int64
	remaining := d.Window.Length()
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		read, err := f.Read(buf[:n])
		if read > 0 {
			written, werr := w.Write(buf[:read])
			sent += int64(written)
			if werr != nil || written < read {
				e.log.Debug("client closed connection mid-transfer",
					"path", d.Path, "sent", sent)
				return sent
			}
			remaining -= int64(read)
		}
		if err != nil {
			if err != io.EOF {
				e.log.Warn("read failed mid-transfer", "path", d.Path, "error", err)
			}
			return sent
		}
	}
	return sent
}

// writeHeader fills the response header map for the portable path.
func (d *Descriptor) writeHeader(h http.Header) {
	h.Set("Content-Type", d.MediaType)
	h.Set("Content-Length", strconv.FormatInt(d.Window.Length(), 10))
	h.Set("ETag", d.ETag)
	h.Set("Last-Modified", d.ModTime.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
	if d.Filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Filename))
	}
	if d.Window.Partial {
		h.Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", d.Window.Start, d.Window.End, d.Size))
	}
}

// head renders the full response head for the raw (hijacked) path.
func (d *Descriptor) head(proto string) []byte {
	status := "200 OK"
	if d.Window.Partial {
		status = "206 Partial Content"
	}
	h := make(http.Header)
	d.writeHeader(h)
	h.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	// The hijacked connection is closed when the transfer ends.
	h.Set("Connection", "close")

	var b []byte
	b = append(b, proto...)
	b = append(b, ' ')
	b = append(b, status...)
	b = append(b, "\r\n"...)
	for _, k := range []string{
		"Date", "Content-Type", "Content-Length", "Content-Range",
		"Content-Disposition", "ETag", "Last-Modified", "Accept-Ranges",
		"Connection",
	} {
		if v := h.Get(k); v != "" {
			b = append(b, k...)
			b = append(b, ": "...)
			b = append(b, v...)
			b = append(b, "\r\n"...)
		}
	}
	return append(b, "\r\n"...)
}
