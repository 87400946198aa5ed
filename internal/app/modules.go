package app

import (
	"github.com/vk/nsweave/internal/plugin"
	"github.com/vk/nsweave/modules/netaddr"
)

// coreModules is the definitive list of function modules compiled into the
// nsweave binary.
var coreModules = []plugin.Module{
	&netaddr.Module{},
}
