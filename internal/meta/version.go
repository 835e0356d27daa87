package meta

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// Info describes the build context of a herald binary, as stamped in by the
// linker. See the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag is the Go build tags the binary was built with
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// String renders the info on a single line, e.g. for `herald version`.
func (i Info) String() string {
	version := i.Version
	if version == "" {
		version = "dev"
	}

	s := fmt.Sprintf("herald %s (%s, %s)", version, i.GoVersion, i.Platform)
	if i.Build != "" {
		s += fmt.Sprintf(" build %s", i.Build)
	}

	if i.Branch != "" {
		s += fmt.Sprintf(" on %s", i.Branch)
	}

	if i.BuildTime != "" {
		s += fmt.Sprintf(" at %s", i.BuildTime)
	}

	return s
}

// Fields returns the info as log fields.
func (i Info) Fields() []zap.Field {
	return []zap.Field{
		zap.String("version", i.Version),
		zap.String("build", i.Build),
		zap.String("branch", i.Branch),
		zap.String("buildTime", i.BuildTime),
		zap.String("goVersion", i.GoVersion),
		zap.String("goTag", i.GoTag),
		zap.String("platform", i.Platform),
	}
}
