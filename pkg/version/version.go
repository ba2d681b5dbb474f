package version

// Version is the application version, overridden at build time via
// -ldflags "-X docuscene/pkg/version.Version=...".
var Version = "v0.3.1"
