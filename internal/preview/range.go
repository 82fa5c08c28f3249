package preview

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// byteRange is an inclusive byte span within a preview file.
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

func (r byteRange) header(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, total)
}

// parseRange interprets a Range header against a file of the given size.
// Only the first span of a multi-range request is honoured. ok is false when
// no Range header was sent.
func parseRange(header string, size int64) (r byteRange, ok bool, err error) {
	if header == "" {
		return byteRange{}, false, nil
	}

	rng, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return byteRange{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(rng, ","); multi {
		rng = strings.TrimSpace(first)
	}

	startStr, endStr, found := strings.Cut(rng, "-")
	if !found {
		return byteRange{}, false, ErrInvalidRange
	}

	if startStr == "" {
		// suffix form: last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, false, ErrInvalidRange
		}
		r.start = max(size-n, 0)
		r.end = size - 1
	} else {
		r.start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || r.start < 0 {
			return byteRange{}, false, ErrInvalidRange
		}
		r.end = size - 1
		if endStr != "" {
			if r.end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
				return byteRange{}, false, ErrInvalidRange
			}
		}
	}

	if r.start > r.end || r.start >= size {
		return byteRange{}, false, ErrUnsatisfiable
	}
	r.end = min(r.end, size-1)
	return r, true, nil
}
