package buildinfo

// Version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X github.com/ksp-modsync/modsync/pkg/buildinfo.Version=1.0.0"
var Version = "dev"

// Commit holds the VCS revision the binary was built from.
var Commit = "unknown"

// Date holds the build timestamp.
var Date = "unknown"
