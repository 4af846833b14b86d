package version

import (
	"fmt"
	"runtime"
)

// Version represents the current version of gdbstub.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// StubVersion is the current version of gdbstub.
var StubVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

var buildInfo = func() string {
	return ""
}

// fixBuild fills in v.Build from the VCS information of the binary, if
// the build ident was not expanded.
var fixBuild = func(v *Version) {}

// BuildInfo returns the Go version and the modules the binary was built
// with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}
