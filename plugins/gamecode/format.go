package gamecode

import (
	"fmt"
	"strconv"
	"time"

	gc "poolbot/internal/gamecode"
	"poolbot/internal/storage"
	"poolbot/pkg/tgui"
)

const maxNameRunes = 64

func formatList(members []gc.Member, page int) *tgui.Builder {
	b := tgui.New()
	if len(members) == 0 {
		return b.Line("The pool is empty.")
	}
	sub, cur, pages := tgui.Page(members, page, listPageSize)
	b.Title("📋", fmt.Sprintf("Pool members (%d)", len(members)))
	for i, m := range sub {
		b.Line(fmt.Sprintf("%d. %s", cur*listPageSize+i+1, tgui.TruncRunes(m.Name, maxNameRunes)))
	}
	if pages > 1 {
		b.Blank().HTML(tgui.I(tgui.PageLabel(cur, pages)))
	}
	return b
}

func formatStatus(st gc.Status) *tgui.Builder {
	title := st.Title
	if title == "" {
		title = "(none)"
	}
	b := tgui.New().
		Title("🎮", "Game pool").
		KV("State", st.State.String()).
		KV("Title", title).
		KV("Members", strconv.Itoa(len(st.Members))).
		KV("Previously picked", strconv.Itoa(st.Excluded))
	if !st.Round.IsZero() {
		b.KV("Last pick", fmt.Sprintf("%d of %d at %s", len(st.Round.Selected), st.Round.PoolSize, st.Round.At.UTC().Format(time.RFC3339))).
			KV("Round", st.Round.ID)
	}
	return b
}

func formatReport(r gc.Round, rep gc.Report, resend bool) *tgui.Builder {
	b := tgui.New()
	verb := "Picked"
	if resend {
		verb = "Resent to"
	}
	if rep.OK() {
		b.Title("✅", fmt.Sprintf("%s %d member(s), all messages delivered.", verb, rep.Attempted))
		if !resend && r.Requested > len(r.Selected) {
			b.Line(fmt.Sprintf("Only %d of the requested %d could be picked.", len(r.Selected), r.Requested))
		}
		return b
	}

	b.Title("⚠️", fmt.Sprintf("%s %d member(s), delivered %d.", verb, rep.Attempted, len(rep.Delivered)))
	var unreachable, failed []string
	for _, f := range rep.Failures {
		name := tgui.TruncRunes(f.Member.Name, maxNameRunes)
		if f.Kind == gc.FailurePermanent {
			unreachable = append(unreachable, name)
		} else {
			failed = append(failed, name+": "+failureText(f))
		}
	}
	if len(unreachable) > 0 {
		b.Blank().Section("Could not message (DMs closed or bot blocked):").Bullets(unreachable...)
	}
	if len(failed) > 0 {
		b.Blank().Section("Failed, may work on retry:").Bullets(failed...)
	}
	b.Blank().Line("Use /game resend <message> to try again, or /game pick to pick more members.")
	return b
}

const maxReasonRunes = 120

// failureText is the delivery error shown to operators, without the
// wrapping added on the way up.
func failureText(f gc.Failure) string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return tgui.TruncRunes(f.Err.Error(), maxReasonRunes)
}

// firstFailure is the reason stored with an audit entry, empty when every
// delivery succeeded.
func firstFailure(rep gc.Report) string {
	if len(rep.Failures) == 0 {
		return ""
	}
	return failureText(rep.Failures[0])
}

func formatHistory(entries []storage.AuditEntry) *tgui.Builder {
	b := tgui.New()
	if len(entries) == 0 {
		return b.Line("No recorded actions yet.")
	}
	b.Title("🕘", "Recent actions")
	for _, e := range entries {
		who := e.ActorName
		if who == "" {
			who = strconv.FormatInt(e.ActorID, 10)
		}
		line := fmt.Sprintf("%s %s by %s", e.At.UTC().Format("2006-01-02 15:04"), e.Action, who)
		if e.Title != "" {
			line += " (" + e.Title + ")"
		}
		switch e.Action {
		case "pick", "resend":
			line += fmt.Sprintf(": %d ok, %d failed", e.OK, e.Fail)
			if e.Error != "" {
				line += " (" + e.Error + ")"
			}
		case "close", "clear_pool", "clear_selected":
			line += fmt.Sprintf(": %d", e.OK)
		}
		b.Line(line)
	}
	return b
}
