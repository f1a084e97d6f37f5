package session

import "github.com/reviewloop/reviewloop/internal/build"

// log is the package-wide logger for the session package.
var log = build.NewSubLogger("SESS")
