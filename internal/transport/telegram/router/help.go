package router

import (
	"html"
	"strings"
)

// helpText renders help for path in Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, found := alias[p]; found && len(full) == 0 {
				return helpNode(leaf, splitRoute(leaf.cmd.Route))
			}
			return "Unknown command. Type <code>/help</code> for the list."
		}
		cur = n
		full = append(full, p)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	lines := []string{"<b>Commands</b>", "Type <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		lines = append(lines, helpLine([]string{name}, n))
	}
	return strings.Join(lines, "\n")
}

func helpLine(path []string, n *cmdNode) string {
	line := "• <code>/" + html.EscapeString(strings.Join(path, " ")) + "</code>"
	if d := summarize(n); d != "" {
		line += ": " + html.EscapeString(d)
	}
	if n.minAccess() > AccessEveryone {
		line += " <i>(mods)</i>"
	}
	return line
}

func helpNode(cur *cmdNode, full []string) string {
	lines := []string{"<b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		switch c.Access {
		case AccessModerator:
			lines = append(lines, "<i>Moderators only</i>")
		case AccessOwnerOnly:
			lines = append(lines, "<i>Owners only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := shortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	}
	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			lines = append(lines, helpLine(append(append([]string(nil), full...), name), n))
		}
	}
	return strings.Join(lines, "\n")
}

// summarize describes a node: its own description, or its first
// subcommands for a pure group.
func summarize(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	s := strings.Join(kids[:min(3, len(kids))], ", ")
	if len(kids) > 3 {
		s += ", …"
	}
	return "subcommands: " + s
}

func shortcuts(c Command) []string {
	var out []string
	route := splitRoute(c.Route)
	if name, ok := menuName(route); ok && len(route) > 1 {
		out = append(out, name)
	}
	for _, a := range c.Aliases {
		if a = sanitizeCommand(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
