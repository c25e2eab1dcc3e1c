package camera

import "runtime"

// Backend selects the capture API used to open a source.
type Backend string

const (
	// BackendDefault lets the capture library choose, without an API hint.
	BackendDefault      Backend = "default"
	BackendAny          Backend = "any"
	BackendV4L2         Backend = "v4l2"
	BackendGStreamer    Backend = "gstreamer"
	BackendDShow        Backend = "dshow"
	BackendMSMF         Backend = "msmf"
	BackendAVFoundation Backend = "avfoundation"
	BackendFFmpeg       Backend = "ffmpeg"
)

// Strategy is one rung of the acquisition ladder.
type Strategy struct {
	Name    string
	Backend Backend
}

// Ladder returns the ordered strategies for a source on the given OS:
// platform default first, then accelerated backends, then the generic
// fallback. An empty goos means the running OS.
func Ladder(src Source, goos string) []Strategy {
	if goos == "" {
		goos = runtime.GOOS
	}

	if src.Kind() != KindDevice {
		return []Strategy{
			{Name: "ffmpeg", Backend: BackendFFmpeg},
			{Name: "gstreamer", Backend: BackendGStreamer},
			{Name: "direct", Backend: BackendDefault},
		}
	}

	ladder := []Strategy{{Name: "direct", Backend: BackendDefault}}
	switch goos {
	case "windows":
		ladder = append(ladder,
			Strategy{Name: "directshow", Backend: BackendDShow},
			Strategy{Name: "media-foundation", Backend: BackendMSMF},
		)
	case "linux":
		ladder = append(ladder,
			Strategy{Name: "v4l2", Backend: BackendV4L2},
			Strategy{Name: "gstreamer", Backend: BackendGStreamer},
		)
	case "darwin":
		ladder = append(ladder, Strategy{Name: "avfoundation", Backend: BackendAVFoundation})
	}
	return append(ladder, Strategy{Name: "any", Backend: BackendAny})
}
