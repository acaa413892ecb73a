// Package version pins the version of the binding runtime, logged at serve
// time so deployments can be told apart in mixed rollouts.
package version

import "fmt"

const (
	BindingMajor = 0
	BindingMinor = 1
)

var (
	BindingVersion = SemVer{BindingMajor, BindingMinor, 0}
)

type SemVer struct {
	Major int
	Minor int
	Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}
