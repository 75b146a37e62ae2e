package version

// Version is the current version of the distork CLI.
// Override at build time with:
//   go build -ldflags="-X 'github.com/poriamsz55/distork-cli/internal/version.Version=v1.0.0'"
var Version = "dev"
