package signature

import (
	"fmt"
	"strconv"
	"strings"
)

// Header is the parsed form of the X-Herald-Signature header value.
type Header struct {
	// TimestampMs is the attempt timestamp in epoch milliseconds.
	TimestampMs int64

	// Signature is the "sha256=<hex>" component.
	Signature string
}

// FormatHeader renders a signature header value in the canonical
// "t=<timestampMs>,sha256=<hex>" form. The signature argument must already
// carry the "sha256=" prefix, as returned by Sign.
func FormatHeader(sig string, timestampMs int64) string {
	return fmt.Sprintf("t=%d,%s", timestampMs, sig)
}

// ParseHeader is the inverse of FormatHeader. It tolerates field reordering
// and returns ok=false on malformed input instead of panicking. Unknown
// fields are ignored so future scheme versions stay parseable.
func ParseHeader(value string) (Header, bool) {
	var h Header
	var haveTS, haveSig bool

	for field := range strings.SplitSeq(value, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found {
			return Header{}, false
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Header{}, false
			}
			h.TimestampMs = ts
			haveTS = true
		case "sha256":
			if val == "" {
				return Header{}, false
			}
			h.Signature = "sha256=" + val
			haveSig = true
		}
	}

	if !haveTS || !haveSig {
		return Header{}, false
	}
	return h, true
}
