package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/nsweave/internal/hclutil"
)

// EnvVar is one environment variable of a pinned process. The value is a
// template expression; it may reference node and core_N slots and is only
// evaluated once the process has concrete cores assigned.
type EnvVar struct {
	Name string
	Expr hcl.Expression
}

// Pinned is a process bound to specific cores inside a node's namespace.
// Immutable after construction except for the lazily computed core-slot set.
type Pinned struct {
	// Cmd is the launch command template.
	Cmd hcl.Expression
	// Environ lists environment variable templates in declared order.
	Environ []EnvVar
	// Down is an optional teardown command template.
	Down hcl.Expression

	coreSlots []string
}

// CoreSlots returns the named core slots this process requires: core_0
// always, plus every core_N referenced by its environment templates, in
// ascending numeric order. The set is computed at most once and cached.
func (p *Pinned) CoreSlots() []string {
	if p.coreSlots != nil {
		return p.coreSlots
	}
	nums := map[int]struct{}{0: {}}
	for _, ev := range p.Environ {
		if ev.Expr == nil {
			continue
		}
		for _, name := range hclutil.ExprRootNames(ev.Expr) {
			if n, ok := parseCoreSlot(name); ok {
				nums[n] = struct{}{}
			}
		}
	}
	ordered := make([]int, 0, len(nums))
	for n := range nums {
		ordered = append(ordered, n)
	}
	sort.Ints(ordered)
	slots := make([]string, len(ordered))
	for i, n := range ordered {
		slots[i] = fmt.Sprintf("core_%d", n)
	}
	p.coreSlots = slots
	return p.coreSlots
}

// CoreCount returns how many distinct cores this process requires.
func (p *Pinned) CoreCount() int {
	return len(p.CoreSlots())
}

func parseCoreSlot(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "core_")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
