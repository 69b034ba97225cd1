package version

import "strings"

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type Info struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// IsDev reports whether the binary was built without a release version.
func IsDev() bool {
	trimmed := strings.TrimSpace(Version)
	return trimmed == "" || trimmed == "dev"
}

// Banner renders the line printed by --version.
func Banner(program string) string {
	if IsDev() {
		return program + " dev"
	}
	line := program + " version " + strings.TrimSpace(Version)
	if commit := strings.TrimSpace(GitCommit); commit != "" {
		line += " (" + commit + ")"
	}
	return line
}
