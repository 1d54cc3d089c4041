package gamecode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	gc "poolbot/internal/gamecode"
	"poolbot/internal/task/scheduler"
)

// Messages are the per-guild reply and announcement templates. Empty fields
// fall back to the defaults block and then to built-in text.
type Messages struct {
	Joined         string `json:"joined,omitempty"`
	Left           string `json:"left,omitempty"`
	Opened         string `json:"opened,omitempty"`
	OpenedSubtitle string `json:"opened_subtitle,omitempty"`
	Closed         string `json:"closed,omitempty"`
	PickedAnnounce string `json:"picked_announce,omitempty"`
	DMFooter       string `json:"dm_footer,omitempty"`
}

type GuildConfig struct {
	PlayerRoles     []string `json:"player_roles,omitempty"`
	ModRoles        []string `json:"mod_roles,omitempty"`
	ModUsers        []int64  `json:"mod_users,omitempty"`
	ExcludeSelected *bool    `json:"exclude_selected,omitempty"`
	AnnounceChat    int64    `json:"announce_chat,omitempty"`
	AnnounceThread  int      `json:"announce_thread,omitempty"`
	AutoClose       string   `json:"auto_close,omitempty"`
	Messages        Messages `json:"messages"`
}

// Config is the plugins.gamecode.config block.
type Config struct {
	Defaults GuildConfig            `json:"defaults"`
	Guilds   map[string]GuildConfig `json:"guilds,omitempty"`

	guilds map[int64]GuildConfig
}

// builtinModRoles applies when neither the guild nor defaults name mod roles.
var builtinModRoles = []string{"creator", "administrator"}

var builtinMessages = Messages{
	Joined:         "You joined the pool for {title}. Good luck!",
	Left:           "You left the pool for {title}.",
	Opened:         "{title}: the pool is open!",
	OpenedSubtitle: "Send /join here to enter. Make sure you have sent me /start in a private chat so I can message you.",
	Closed:         "{title}: the pool is closed.",
	PickedAnnounce: "{title}: players picked!",
}

func parseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Config{}, fmt.Errorf("decode: %w", err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return Config{}, fmt.Errorf("decode: trailing data after config object")
		}
	}
	if err := c.Defaults.validate("defaults"); err != nil {
		return Config{}, err
	}
	c.guilds = make(map[int64]GuildConfig, len(c.Guilds))
	for key, g := range c.Guilds {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("guilds.%s: key must be a numeric chat id", key)
		}
		if err := g.validate("guilds." + key); err != nil {
			return Config{}, err
		}
		c.guilds[id] = g
	}
	return c, nil
}

func (g GuildConfig) validate(path string) error {
	if g.AnnounceThread < 0 {
		return fmt.Errorf("%s.announce_thread must be >= 0", path)
	}
	if s := strings.TrimSpace(g.AutoClose); s != "" {
		if err := scheduler.Validate(s); err != nil {
			return fmt.Errorf("%s.auto_close: %w", path, err)
		}
	}
	return nil
}

// For returns the effective config of a group chat. With no guilds listed
// every group uses defaults; otherwise only listed groups are enabled.
func (c Config) For(chatID int64) (GuildConfig, bool) {
	if len(c.guilds) == 0 {
		return c.Defaults.withFallback(GuildConfig{}), true
	}
	g, ok := c.guilds[chatID]
	if !ok {
		return GuildConfig{}, false
	}
	return g.withFallback(c.Defaults), true
}

// Explicit returns the chat ids listed under guilds.
func (c Config) Explicit() []int64 {
	out := make([]int64, 0, len(c.guilds))
	for id := range c.guilds {
		out = append(out, id)
	}
	return out
}

// withFallback fills every unset field of g from d, and empty templates and
// mod roles from built-ins.
func (g GuildConfig) withFallback(d GuildConfig) GuildConfig {
	if len(g.PlayerRoles) == 0 {
		g.PlayerRoles = d.PlayerRoles
	}
	if len(g.ModRoles) == 0 {
		g.ModRoles = d.ModRoles
	}
	if len(g.ModRoles) == 0 {
		g.ModRoles = builtinModRoles
	}
	if len(g.ModUsers) == 0 {
		g.ModUsers = d.ModUsers
	}
	if g.ExcludeSelected == nil {
		g.ExcludeSelected = d.ExcludeSelected
	}
	if g.AnnounceChat == 0 {
		g.AnnounceChat = d.AnnounceChat
	}
	if g.AnnounceThread == 0 {
		g.AnnounceThread = d.AnnounceThread
	}
	if strings.TrimSpace(g.AutoClose) == "" {
		g.AutoClose = d.AutoClose
	}
	g.Messages = g.Messages.withFallback(d.Messages).withFallback(builtinMessages)
	return g
}

func (m Messages) withFallback(d Messages) Messages {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Messages{
		Joined:         pick(m.Joined, d.Joined),
		Left:           pick(m.Left, d.Left),
		Opened:         pick(m.Opened, d.Opened),
		OpenedSubtitle: pick(m.OpenedSubtitle, d.OpenedSubtitle),
		Closed:         pick(m.Closed, d.Closed),
		PickedAnnounce: pick(m.PickedAnnounce, d.PickedAnnounce),
		DMFooter:       pick(m.DMFooter, d.DMFooter),
	}
}

func (g GuildConfig) excludeSelected() bool {
	return g.ExcludeSelected != nil && *g.ExcludeSelected
}

func (g GuildConfig) policy() gc.Policy {
	return gc.Policy{RequiredRoles: g.PlayerRoles, ExcludeSelected: g.excludeSelected()}
}

func (g GuildConfig) isModUser(id int64) bool {
	for _, u := range g.ModUsers {
		if u == id {
			return true
		}
	}
	return false
}

// hasModRole matches case-insensitively, like player roles.
func (g GuildConfig) hasModRole(roles []string) bool {
	for _, want := range g.ModRoles {
		w := strings.ToLower(strings.TrimSpace(want))
		for _, have := range roles {
			if w != "" && strings.ToLower(strings.TrimSpace(have)) == w {
				return true
			}
		}
	}
	return false
}
