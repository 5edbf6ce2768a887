package pipeline

import (
	"strings"

	"github.com/sgtm-bot/sgtm/pkg/logger"
	"golang.org/x/mod/semver"
)

var runtimeLog = logger.New("pipeline:runtime")

// Runtime is the language runtime every job runs in, pinned through the tag of
// its container image.
type Runtime struct {
	Image string `yaml:"image" json:"image" jsonschema:"Container image pinned to a runtime version, e.g. python:3.9"`
}

// Version returns the runtime version pinned by the image tag, without any
// variant suffix: "python:3.9-slim" yields "3.9". It returns "" when the image
// has no tag or is pinned by digest only.
func (r Runtime) Version() string {
	return imageVersion(r.Image)
}

// IsPinned reports whether the image pins a version or a digest.
func (r Runtime) IsPinned() bool {
	return isPinnedImage(r.Image)
}

func isPinnedImage(image string) bool {
	if strings.Contains(image, "@sha256:") {
		return true
	}
	return semver.IsValid(canonicalVersion(imageVersion(image)))
}

// imageVersion extracts the tag of an image reference, ignoring registry ports.
func imageVersion(image string) string {
	ref := image
	if at := strings.Index(ref, "@"); at >= 0 {
		ref = ref[:at]
	}
	name := ref
	if slash := strings.LastIndex(ref, "/"); slash >= 0 {
		name = ref[slash+1:]
	}
	colon := strings.LastIndex(name, ":")
	if colon < 0 {
		return ""
	}
	tag := name[colon+1:]
	if dash := strings.Index(tag, "-"); dash >= 0 {
		tag = tag[:dash]
	}
	if tag == "latest" {
		return ""
	}
	return tag
}

// canonicalVersion ensures the "v" prefix the semver package requires.
func canonicalVersion(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isSameMajorMinor reports whether two versions share the same major and minor
// version, e.g. 3.9 and 3.9.18. Language runtimes break compatibility on minor
// releases, so the check is stricter than semver major compatibility.
func isSameMajorMinor(v1, v2 string) bool {
	mm1 := semver.MajorMinor(canonicalVersion(v1))
	mm2 := semver.MajorMinor(canonicalVersion(v2))
	same := mm1 != "" && mm1 == mm2
	runtimeLog.Printf("Checking runtime compatibility: %s (%s) vs %s (%s) -> %v", v1, mm1, v2, mm2, same)
	return same
}
