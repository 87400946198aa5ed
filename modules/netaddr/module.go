// Package netaddr contributes address-generation functions to the plugin
// registry for use in node environments.
package netaddr

import (
	"encoding/binary"
	"net"

	"github.com/vk/nsweave/internal/plugin"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Module implements the plugin.Module interface for this package.
type Module struct{}

// ULA returns a deterministic unique-local IPv6 address in fc00:1::/32
// derived from a small integer, typically a node's position index. Useful
// for loopback addressing of emulated routers.
func ULA(n int64) string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], 0xfc00<<48|1<<32|uint64(n)<<16)
	return net.IP(b[:]).String()
}

var ulaFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "n", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		n, _ := args[0].AsBigFloat().Int64()
		return cty.StringVal(ULA(n)), nil
	},
})

// Register registers this module's functions with the table.
func (m *Module) Register(r *plugin.Registry) {
	r.RegisterFunction("ula", ulaFunc)
}
