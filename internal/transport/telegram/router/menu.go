package router

import (
	"sort"
	"strings"

	kit "poolbot/internal/transport"
)

// sanitizeCommand maps a route or alias to a Telegram command name:
// [a-z0-9_]{1,32}, starting with a letter.
func sanitizeCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == ' ', r == '/':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menuName joins a route into one command, "game pick" -> "game_pick".
func menuName(route []string) (string, bool) {
	out := sanitizeCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildMenu lists top-level commands first, then multi-token shortcuts.
// Commands that need privileges are marked so users know before trying.
func buildMenu(root *cmdNode, leaves []Command) []kit.BotCommand {
	type entry struct {
		cmd  string
		desc string
		prio int
	}
	seen := map[string]bool{}
	var entries []entry
	add := func(cmd, desc string, restricted bool, prio int) {
		cmd = sanitizeCommand(cmd)
		if cmd == "" || seen[cmd] {
			return
		}
		seen[cmd] = true
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if restricted {
			desc = "(mods) " + desc
		}
		entries = append(entries, entry{cmd: cmd, desc: desc, prio: prio})
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(name, summarize(n), n.minAccess() > AccessEveryone, 0)
	}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		if name, ok := menuName(route); ok {
			add(name, c.Description, c.Access > AccessEveryone, 1)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})
	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
