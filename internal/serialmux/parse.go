package serialmux

import (
	"strings"

	"github.com/banshee-data/tofcam/internal/protocol"
)

// ResponseKind classifies a text line received from the device.
type ResponseKind int

const (
	ResponseInfo ResponseKind = iota
	ResponseOK
	ResponseError
)

// ClassifyResponse inspects a line and reports whether it acknowledges or
// rejects a command. Anything else is informational output.
func ClassifyResponse(line string) ResponseKind {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case protocol.ResponseOK:
		return ResponseOK
	case protocol.ResponseError:
		return ResponseError
	}
	return ResponseInfo
}
