// Package synth compiles a placed topology into per-host imperative command
// phases: namespace creation, link wiring, traffic shaping, and pinned
// process launches.
package synth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/nsweave/internal/alloc"
	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/render"
	"github.com/vk/nsweave/internal/topology"
	"github.com/zclconf/go-cty/cty/function"
)

// Phase names one command bucket of a host's setup or teardown sequence.
type Phase string

const (
	PhasePreSetup  Phase = "PreSetup"
	PhaseNodes     Phase = "Nodes"
	PhaseLinks     Phase = "Links"
	PhasePostSetup Phase = "PostSetup"
	PhaseProcesses Phase = "Processes"
	// PhasePreDown is reserved for teardown hooks that must run while the
	// namespaces still exist. Nothing emits into it yet.
	PhasePreDown Phase = "PreDown"
	PhaseDown    Phase = "Down"
)

// SetupOrder is the execution order of the setup phases on a host.
var SetupOrder = []Phase{PhasePreSetup, PhaseNodes, PhaseLinks, PhasePostSetup, PhaseProcesses}

// DownOrder is the execution order of the teardown phases on a host.
var DownOrder = []Phase{PhasePreDown, PhaseDown}

// PerHostConfig holds every host's command phases. Commands within a phase
// are ordered; phases follow SetupOrder then DownOrder.
type PerHostConfig map[string]map[Phase][]string

// Shaping defaults applied when a link leaves latency or bandwidth unset.
// Explicit shaping on every veth keeps same-host links from running at
// memory-bus speed.
const (
	defaultDelay = "0ms"
	defaultRate  = "1gbit"
)

// Synthesizer turns one placed topology into per-host command phases.
type Synthesizer struct {
	topo      *topology.Topology
	inf       *infra.Infrastructure
	placement alloc.Placement
	funcs     map[string]function.Function

	configs PerHostConfig
}

// New creates a Synthesizer over an already-computed placement. funcs is the
// registered-function table used when evaluating node environments; it may
// be nil.
func New(topo *topology.Topology, inf *infra.Infrastructure, placement alloc.Placement, funcs map[string]function.Function) *Synthesizer {
	return &Synthesizer{
		topo:      topo,
		inf:       inf,
		placement: placement,
		funcs:     funcs,
		configs:   make(PerHostConfig),
	}
}

// Build compiles the full per-host configuration: node namespaces first,
// then links, then the host-level pre/post hooks. Process launches and
// teardown commands are emitted alongside their node.
func (s *Synthesizer) Build(ctx context.Context) (PerHostConfig, error) {
	logger := ctxlog.FromContext(ctx)

	for _, nid := range s.topo.NodeIDs() {
		if err := s.addNode(ctx, nid); err != nil {
			return nil, err
		}
	}
	if err := s.addLinks(ctx); err != nil {
		return nil, err
	}
	s.addSetup(PhasePreSetup, s.inf.Pre)
	s.addSetup(PhasePostSetup, s.inf.Post)

	logger.Debug("Synthesis complete.", "hosts", len(s.configs))
	return s.configs, nil
}

// hostOf resolves a node's phynode or fails with a placement fault.
func (s *Synthesizer) hostOf(nid string) (string, error) {
	host, ok := s.placement.Host(nid)
	if !ok {
		return "", faults.PlacementMissing("node %q has no placement", nid)
	}
	return host, nil
}

// phynodeExec appends a raw command to a host's phase.
func (s *Synthesizer) phynodeExec(host string, phase Phase, cmd string) {
	if s.configs[host] == nil {
		s.configs[host] = make(map[Phase][]string)
	}
	s.configs[host][phase] = append(s.configs[host][phase], cmd)
}

// nodeExec wraps a command so it runs inside the node's namespace, with an
// optional environment prefix, and appends it on the node's host.
func (s *Synthesizer) nodeExec(nid string, phase Phase, cmd string, environ []envPair) error {
	host, err := s.hostOf(nid)
	if err != nil {
		return err
	}
	prefix := ""
	if len(environ) > 0 {
		pairs := make([]string, len(environ))
		for i, e := range environ {
			pairs[i] = e.name + "=" + e.value
		}
		prefix = strings.Join(pairs, " ") + " "
	}
	s.phynodeExec(host, phase, fmt.Sprintf(`%sip netns exec %s bash -c "%s"`, prefix, nid, cmd))
	return nil
}

// nsIP appends an `ip -n {nid} ...` command on the node's host.
func (s *Synthesizer) nsIP(nid string, phase Phase, args string) error {
	host, err := s.hostOf(nid)
	if err != nil {
		return err
	}
	s.phynodeExec(host, phase, fmt.Sprintf("ip -n %s %s", nid, args))
	return nil
}

type envPair struct {
	name  string
	value string
}

// addNode emits the node's namespace creation, loopback bring-up, exec
// commands, sysctls, and pinned process launches.
func (s *Synthesizer) addNode(ctx context.Context, nid string) error {
	node, _ := s.topo.Node(nid)
	host, err := s.hostOf(nid)
	if err != nil {
		return err
	}

	s.phynodeExec(host, PhaseNodes, "ip netns add "+nid)
	for _, addr := range node.Addrs["lo"] {
		if err := s.nsIP(nid, PhaseNodes, fmt.Sprintf("a add %s dev lo", addr)); err != nil {
			return err
		}
	}
	if err := s.nsIP(nid, PhaseNodes, "l set dev lo up"); err != nil {
		return err
	}

	if len(node.Exec) > 0 {
		env, err := render.EvalEnv(ctx, node, s.funcs)
		if err != nil {
			return err
		}
		vars, err := render.EnvVars(nid, env)
		if err != nil {
			return err
		}
		for _, expr := range node.Exec {
			cmd, err := render.Command(expr, vars)
			if err != nil {
				return faults.ConfigMalformed("node %q: exec: %s", nid, err)
			}
			if err := s.nodeExec(nid, PhaseNodes, cmd, nil); err != nil {
				return err
			}
		}
	}

	keys := make([]string, 0, len(node.Sysctls))
	for k := range node.Sysctls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.nodeExec(nid, PhaseNodes, fmt.Sprintf("sysctl -w %s=%s", k, node.Sysctls[k]), nil); err != nil {
			return err
		}
	}

	for pi, pinned := range node.Pinned {
		if err := s.addPinned(nid, pinned, pi); err != nil {
			return err
		}
	}
	return nil
}

// addPinned emits one process launch bound to its allocated cores, plus its
// teardown command when one is declared. Only core_0 is passed to taskset;
// the remaining slots reach the process through its environment.
func (s *Synthesizer) addPinned(nid string, p *topology.Pinned, idx int) error {
	assignment, ok := s.placement[nid]
	if !ok || idx >= len(assignment.Cores) {
		return faults.PlacementMissing("node %q: process %d has no core assignment", nid, idx)
	}
	cores := assignment.Cores[idx]
	vars := render.CoreVars(nid, p.CoreSlots(), cores)

	environ := make([]envPair, 0, len(p.Environ))
	for _, ev := range p.Environ {
		val, err := render.Command(ev.Expr, vars)
		if err != nil {
			return faults.ConfigMalformed("node %q: process %d: environment %q: %s", nid, idx, ev.Name, err)
		}
		environ = append(environ, envPair{name: ev.Name, value: val})
	}

	cmd, err := render.Command(p.Cmd, vars)
	if err != nil {
		return faults.ConfigMalformed("node %q: process %d: %s", nid, idx, err)
	}
	launch := fmt.Sprintf("taskset -c %d %s", cores[0], cmd)
	if err := s.nodeExec(nid, PhaseProcesses, launch, environ); err != nil {
		return err
	}

	if p.Down != nil {
		down, err := render.Command(p.Down, vars)
		if err != nil {
			return faults.ConfigMalformed("node %q: process %d: down: %s", nid, idx, err)
		}
		if err := s.nodeExec(nid, PhaseDown, down, nil); err != nil {
			return err
		}
	}
	return nil
}

// addLinks walks every physical link once, in its declared direction. The
// reverse edges exist only for adjacency queries.
func (s *Synthesizer) addLinks(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	for _, e := range s.topo.Edges() {
		if !e.Declared {
			continue
		}
		if err := s.addLink(e); err != nil {
			return err
		}
		logger.Debug("Link synthesized.", "head", e.Head+":"+e.LocalIface, "tail", e.Tail+":"+e.PeerIface)
	}
	return nil
}

// addLink emits one physical link: a veth pair when both ends share a host,
// otherwise a VLAN subinterface over each host's trunk device. Shaping,
// MTU, addresses, and bring-up follow on both ends.
func (s *Synthesizer) addLink(e topology.Edge) error {
	headHost, err := s.hostOf(e.Head)
	if err != nil {
		return err
	}
	tailHost, err := s.hostOf(e.Tail)
	if err != nil {
		return err
	}

	if headHost == tailHost {
		s.phynodeExec(headHost, PhaseLinks, fmt.Sprintf(
			"ip l add dev %s netns %s type veth peer name %s netns %s",
			e.LocalIface, e.Head, e.PeerIface, e.Tail))
	} else {
		tag, err := s.vlanTag(e.Head, e.Tail)
		if err != nil {
			return err
		}
		for _, end := range []struct {
			host, node, iface string
		}{
			{headHost, e.Head, e.LocalIface},
			{tailHost, e.Tail, e.PeerIface},
		} {
			phy, _ := s.inf.Phynode(end.host)
			if phy.Trunk == "" {
				return faults.UnresolvedLink(
					"cross-host link %s:%s-%s:%s: phynode %q has no trunk device",
					e.Head, e.LocalIface, e.Tail, e.PeerIface, end.host)
			}
			s.phynodeExec(end.host, PhaseLinks, fmt.Sprintf(
				"ip l add link %s name %s netns %s type vlan id %d",
				phy.Trunk, end.iface, end.node, tag))
		}
	}

	// Shaping is attached on the head end only; both directions traverse it.
	delay, rate := defaultDelay, defaultRate
	if e.Attrs != nil {
		if e.Attrs.Latency != "" {
			delay = e.Attrs.Latency
		}
		if e.Attrs.Bandwidth != "" {
			rate = e.Attrs.Bandwidth
		}
	}
	if err := s.nodeExec(e.Head, PhaseLinks, fmt.Sprintf(
		"tc qdisc add dev %s root netem delay %s rate %s", e.LocalIface, delay, rate), nil); err != nil {
		return err
	}

	if e.Attrs != nil && e.Attrs.MTU > 0 {
		if err := s.nsIP(e.Head, PhaseLinks, fmt.Sprintf("l set dev %s mtu %d", e.LocalIface, e.Attrs.MTU)); err != nil {
			return err
		}
		if err := s.nsIP(e.Tail, PhaseLinks, fmt.Sprintf("l set dev %s mtu %d", e.PeerIface, e.Attrs.MTU)); err != nil {
			return err
		}
	}

	for _, end := range []struct {
		node, iface string
	}{
		{e.Head, e.LocalIface},
		{e.Tail, e.PeerIface},
	} {
		node, _ := s.topo.Node(end.node)
		for _, addr := range node.Addrs[end.iface] {
			if err := s.nsIP(end.node, PhaseLinks, fmt.Sprintf("a add %s dev %s", addr, end.iface)); err != nil {
				return err
			}
		}
		if err := s.nsIP(end.node, PhaseLinks, fmt.Sprintf("l set dev %s up", end.iface)); err != nil {
			return err
		}
	}
	return nil
}

// vlanTag derives a stable 802.1Q tag from the endpoints' 1-based topology
// indices. Tags beyond the 12-bit VLAN ID space cannot be represented.
func (s *Synthesizer) vlanTag(head, tail string) (int, error) {
	h := s.topo.Index(head) + 1
	t := s.topo.Index(tail) + 1
	tag := h<<8 | t
	if h > 15 || t > 255 || tag > 4094 {
		return 0, faults.UnresolvedLink(
			"cross-host link %s-%s: derived VLAN tag %d exceeds the 802.1Q ID space", head, tail, tag)
	}
	return tag, nil
}

// addSetup appends host-level hook commands to every participating host.
func (s *Synthesizer) addSetup(phase Phase, cmds []infra.SetupCommand) {
	if len(cmds) == 0 {
		return
	}
	for _, pid := range s.inf.PhynodeIDs() {
		if _, participates := s.configs[pid]; !participates {
			continue
		}
		for _, c := range cmds {
			s.phynodeExec(pid, phase, c.Inline)
		}
	}
}
