package version

import (
	"fmt"
	"strings"
)

// Injected at build time with -ldflags "-X github.com/replicate/rget/pkg/version.Version=..."
var (
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
)

// Info is the build information of the running binary.
type Info struct {
	Version    string
	CommitHash string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
}

func Current() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		Prerelease: Prerelease,
		Snapshot:   Snapshot,
		OS:         OS,
		Arch:       Arch,
		Branch:     Branch,
	}
}

// GetVersion returns the version information in a human consumable way. It is
// also the product version of the User-Agent header.
func GetVersion() string {
	return Current().String()
}

func (i Info) String() string {
	var b strings.Builder
	version := i.Version
	if version == "" {
		version = "dev"
	}
	b.WriteString(version)
	if i.CommitHash != "" {
		fmt.Fprintf(&b, "(%s)", i.CommitHash)
	}

	switch {
	case i.Prerelease != "":
		fmt.Fprintf(&b, "-%s", i.Prerelease)
	case i.Snapshot == "true":
		b.WriteString("-snapshot")
	}

	if i.Branch != "" && i.Branch != "main" && i.Branch != "HEAD" {
		fmt.Fprintf(&b, "[%s]", i.Branch)
	}

	switch {
	case i.OS != "" && i.Arch != "":
		fmt.Fprintf(&b, "/%s-%s", i.OS, i.Arch)
	case i.OS != "":
		fmt.Fprintf(&b, "/%s", i.OS)
	}
	return b.String()
}
