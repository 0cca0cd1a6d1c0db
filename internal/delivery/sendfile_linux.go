//go:build linux

package delivery

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// platformCopier returns the kernel sendfile strategy. On Linux the
// file bytes move from the page cache straight to the socket without
// touching user space.
func platformCopier(chunk int64, log *slog.Logger) rawCopier {
	return &sendfileCopier{chunk: chunk, log: log}
}

type sendfileCopier struct {
	chunk int64
	log   *slog.Logger
}

// serve hijacks the connection, writes the prebuilt response head and
// pushes the file window with sendfile(2) in bounded calls. Requests
// whose ResponseWriter cannot be hijacked (HTTP/2, recycled test
// writers) are declined so the caller can take the portable path.
// The hijacked connection is always closed when the transfer ends;
// the head announces "Connection: close" accordingly.
func (c *sendfileCopier) serve(w http.ResponseWriter, f *os.File, d *Descriptor, head []byte) (int64, bool) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return 0, false
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		return 0, false
	}
	defer conn.Close()

	if _, err := bufrw.Write(head); err != nil {
		return 0, true
	}
	if err := bufrw.Flush(); err != nil {
		return 0, true
	}

	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		// TLS or a non-TCP transport: the connection is already
		// hijacked, so finish with a plain copy over it.
		sent, _ := io.Copy(bufrw, io.NewSectionReader(f, d.Window.Start, d.Window.Length()))
		bufrw.Flush()
		return sent, true
	}

	rc, err := tcp.SyscallConn()
	if err != nil {
		return 0, true
	}

	fd := int(f.Fd())
	offset := d.Window.Start
	remaining := d.Window.Length()
	var sockErr error

	waitErr := rc.Write(func(outfd uintptr) bool {
		for remaining > 0 {
			count := c.chunk
			if count > remaining {
				count = remaining
			}
			sent, err := unix.Sendfile(int(outfd), fd, &offset, int(count))
			if sent > 0 {
				remaining -= int64(sent)
			}
			switch err {
			case nil:
				if sent == 0 {
					// Destination accepted nothing: the peer
					// closed the connection.
					return true
				}
			case unix.EAGAIN:
				// Socket buffer full; let the poller wake us
				// when it drains.
				return false
			case unix.EINTR:
				continue
			default:
				sockErr = err
				return true
			}
		}
		return true
	})

	sent := d.Window.Length() - remaining
	if sockErr != nil || waitErr != nil {
		err := sockErr
		if err == nil {
			err = waitErr
		}
		if err == syscall.EPIPE || err == syscall.ECONNRESET {
			c.log.Debug("client closed connection mid-transfer",
				"path", d.Path, "sent", sent)
		} else {
			c.log.Warn("sendfile aborted", "path", d.Path, "sent", sent, "error", err)
		}
	}
	return sent, true
}
