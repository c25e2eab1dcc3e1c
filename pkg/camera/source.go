package camera

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceKind identifies where frames come from.
type SourceKind string

const (
	KindDevice SourceKind = "device"
	KindStream SourceKind = "stream"
	KindFile   SourceKind = "file"
)

// Source is a capture origin: a local device index or a URI (RTSP/HTTP
// stream or video file). A non-empty URI takes precedence over Device.
type Source struct {
	Device int    `json:"device"`
	URI    string `json:"uri,omitempty"`
}

// Device returns the source for a local device index.
func Device(index int) Source {
	return Source{Device: index}
}

// ParseSource accepts a device index ("0") or a URI/path.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Source{}, ErrInvalidSource
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Source{}, fmt.Errorf("%w: negative device index %d", ErrInvalidSource, n)
		}
		return Device(n), nil
	}
	return Source{URI: s}, nil
}

// Kind reports the source kind.
func (s Source) Kind() SourceKind {
	switch {
	case s.URI == "":
		return KindDevice
	case strings.Contains(s.URI, "://"):
		return KindStream
	default:
		return KindFile
	}
}

// Live reports whether the source produces frames in real time. Files are
// paced by the session instead.
func (s Source) Live() bool {
	return s.Kind() != KindFile
}

// String is also the key used to track open handles per source.
func (s Source) String() string {
	if s.URI != "" {
		return s.URI
	}
	return strconv.Itoa(s.Device)
}
