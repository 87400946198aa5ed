package export

import "github.com/vk/nsweave/internal/topology"

// RoleInterface describes one node interface inside the roles artifact: the
// interface name, the physical link it belongs to, and which direction of
// that link the node terminates.
type RoleInterface struct {
	Name      string `yaml:"name"`
	Link      string `yaml:"link"`
	Direction string `yaml:"direction"`
}

// Role maps one namespace to the link endpoints it owns. Role and namespace
// share the node's ID.
type Role struct {
	Role       string          `yaml:"role"`
	Namespace  string          `yaml:"namespace"`
	Interfaces []RoleInterface `yaml:"interfaces"`
}

// Roles derives the deployment roles from the topology. Each physical link
// contributes its declared direction as the link name; the declaring end is
// "forward", the peer "backward". Nodes appear in declaration order; nodes
// without links are omitted.
func Roles(topo *topology.Topology) []Role {
	perNode := make(map[string][]RoleInterface)

	for _, e := range topo.Edges() {
		if !e.Declared {
			continue
		}
		link := e.Head + ":" + e.LocalIface + "-" + e.Tail + ":" + e.PeerIface
		perNode[e.Head] = append(perNode[e.Head], RoleInterface{Name: e.LocalIface, Link: link, Direction: "forward"})
		perNode[e.Tail] = append(perNode[e.Tail], RoleInterface{Name: e.PeerIface, Link: link, Direction: "backward"})
	}

	var roles []Role
	for _, nid := range topo.NodeIDs() {
		ifaces, ok := perNode[nid]
		if !ok {
			continue
		}
		roles = append(roles, Role{Role: nid, Namespace: nid, Interfaces: ifaces})
	}
	return roles
}
