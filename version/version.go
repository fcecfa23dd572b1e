package version

import "fmt"

const (
	// COMPONENT identifies which Teal binary this build is, since cmd/teal
	// and cmd/tealworker share this package.
	COMPONENT = "teal-vm"
	VERSION   = "0.1.0"
	COMMIT    = "dev"
	BUILT     = ""
)

func Version() string {
	return fmt.Sprintf("%s %s (%s)", COMPONENT, VERSION, BUILT)
}
