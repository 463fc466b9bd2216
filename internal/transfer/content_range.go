package transfer

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown. For the
// unsatisfied form "bytes */total", start and end are -1.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total, bytes start-end/* or bytes */total
	value, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	rng, size, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if size == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	if rng == "*" {
		if total < 0 {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
		}

		return -1, -1, total, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d before start %d", end, start)
	}

	return start, end, total, nil
}
