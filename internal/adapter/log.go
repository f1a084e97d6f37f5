package adapter

import "github.com/reviewloop/reviewloop/internal/build"

// log is the package-wide logger for the adapter package.
var log = build.NewSubLogger("ADPT")
