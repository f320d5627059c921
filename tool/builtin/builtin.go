// Package builtin provides the tools relay ships with: an arithmetic calculator
// and a user directory lookup.
package builtin

import "github.com/casualjim/relay/tool"

// Register adds every builtin tool to reg. A nil directory uses SampleDirectory.
func Register(reg *tool.Registry, dir UserDirectory) {
	if dir == nil {
		dir = SampleDirectory()
	}
	reg.Register(Calculator())
	reg.Register(UserInformation(dir))
}
