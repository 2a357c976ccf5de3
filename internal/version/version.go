package version

import "fmt"

var (
	Name      = "custodian"
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, Commit, BuildDate)
}
