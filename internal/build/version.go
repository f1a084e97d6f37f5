package build

import "fmt"

const (
	// AppMajor defines the major version of this binary.
	AppMajor uint = 0

	// AppMinor defines the minor version of this binary.
	AppMinor uint = 2

	// AppPatch defines the application patch for this binary.
	AppPatch uint = 0

	// AppPreRelease defines the pre-release suffix, if any.
	AppPreRelease = "beta"
)

// Version returns the application version as a properly formed string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, AppPreRelease)
	}

	return version
}
