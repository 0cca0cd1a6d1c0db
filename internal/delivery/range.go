package delivery

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnsatisfiable reports a Range header that cannot be served from
// the resource. The caller answers it with 416 and
// "Content-Range: bytes */<size>" and no body.
var ErrUnsatisfiable = errors.New("requested range not satisfiable")

// Window is the inclusive byte interval a transfer covers. Partial is
// false when the window spans the whole resource because no usable
// Range header was present; it decides 200 vs 206.
type Window struct {
	Start   int64
	End     int64
	Partial bool
}

// Length returns the number of bytes in the window.
func (w Window) Length() int64 {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start + 1
}

// NegotiateRange parses a Range header against the resource size.
//
// Grammar: "bytes=<start>-<end>". An empty <start> requests the last
// <end> bytes (suffix range); an empty <end> runs through the end of
// the resource. A multi-range header (comma-separated set) is rejected
// with ErrUnsatisfiable: this server never produces multipart range
// responses, and silently serving the full body would mask client
// bugs. A header that is absent, does not start with "bytes=", or
// fails to parse as integers selects the full resource.
func NegotiateRange(header string, size int64) (Window, error) {
	full := Window{Start: 0, End: size - 1}

	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return full, nil
	}
	if strings.Contains(spec, ",") {
		return Window{}, ErrUnsatisfiable
	}

	startText, endText, ok := strings.Cut(spec, "-")
	if !ok {
		return full, nil
	}
	startText = strings.TrimSpace(startText)
	endText = strings.TrimSpace(endText)

	if startText == "" {
		// Suffix range: last <endText> bytes.
		if endText == "" {
			return full, nil
		}
		n, err := strconv.ParseInt(endText, 10, 64)
		if err != nil {
			return full, nil
		}
		if n <= 0 || size == 0 {
			return Window{}, ErrUnsatisfiable
		}
		if n > size {
			n = size
		}
		return Window{Start: size - n, End: size - 1, Partial: true}, nil
	}

	start, err := strconv.ParseInt(startText, 10, 64)
	if err != nil || start < 0 {
		return full, nil
	}

	end := size - 1
	if endText != "" {
		end, err = strconv.ParseInt(endText, 10, 64)
		if err != nil {
			return full, nil
		}
	}

	if start > end || end >= size {
		return Window{}, ErrUnsatisfiable
	}
	return Window{Start: start, End: end, Partial: true}, nil
}
