package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a command route. Leaves carry the command;
// inner nodes may carry one too ("/game" and "/game open").
type cmdNode struct {
	cmd      *Command
	children map[string]*cmdNode
}

func newNode() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func splitRoute(route string) []string { return strings.Fields(route) }

func (n *cmdNode) add(route []string, c Command) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = newNode()
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// minAccess is the least privileged access level among the node and its
// descendants, so a group shows as restricted only if everything in it is.
func (n *cmdNode) minAccess() Access {
	best := AccessOwnerOnly
	var walk func(x *cmdNode)
	walk = func(x *cmdNode) {
		if x.cmd != nil && x.cmd.Access < best {
			best = x.cmd.Access
		}
		for _, c := range x.children {
			walk(c)
		}
	}
	walk(n)
	return best
}
