package topology

import "github.com/hashicorp/hcl/v2"

// FileTemplate names a configuration file template and the template of its
// destination path on the node. The rendered content is produced later by
// the renderer.
type FileTemplate struct {
	Name string
	Dst  hcl.Expression
}

// Node is the configuration of one logical node: an emulated endpoint
// realized as an isolated network namespace on some phynode.
type Node struct {
	ID string

	// Pinned lists the node's pinned processes in declared order.
	Pinned []*Pinned

	// Addrs maps interface name to its list of addresses, family-agnostic.
	Addrs map[string][]string

	// Sysctls maps sysctl name to value, applied inside the namespace.
	Sysctls map[string]string

	// Exec lists one-shot startup command templates.
	Exec []hcl.Expression

	// Templates lists configuration file templates in declared order.
	Templates []FileTemplate

	// Env is the node's free-form environment: every attribute that is not
	// one of the reserved configuration keys, kept unevaluated until
	// rendering. DefaultEnv carries the topology-wide node defaults; the
	// renderer deep-merges Env over it.
	Env        map[string]hcl.Expression
	DefaultEnv map[string]hcl.Expression
}

// CoreCount is the node's total core requirement: the sum over its pinned
// processes of each process's core-slot count.
func (n *Node) CoreCount() int {
	total := 0
	for _, p := range n.Pinned {
		total += p.CoreCount()
	}
	return total
}
