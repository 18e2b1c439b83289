package bot

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"
)

const historySize = 10

func (b *Bot) handleSetToken(c tele.Context) error {
	token := strings.TrimSpace(c.Message().Payload)
	if token == "" {
		return c.Send("Usage: /settoken <testbook_auth_token>")
	}
	if err := b.settings.SetToken(token); err != nil {
		b.logger.Error("could not save token", "error", err)
		return c.Send("❌ Could not save the token: " + err.Error())
	}
	b.logger.Info("testbook token updated", "chat_id", c.Chat().ID)
	return c.Send("✅ Testbook token updated.")
}

func parseUserID(payload string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) handleAddAdmin(c tele.Context) error {
	id, ok := parseUserID(c.Message().Payload)
	if !ok {
		return c.Send("Usage: /addadmin <user_id>")
	}
	added, err := b.settings.AddAdmin(id)
	if err != nil {
		b.logger.Error("could not save admins", "error", err)
		return c.Send("❌ Could not save the admin list: " + err.Error())
	}
	if !added {
		return c.Send(fmt.Sprintf("ℹ️ %d is already an admin.", id))
	}
	return c.Send(fmt.Sprintf("✅ Added %d as admin.", id))
}

func (b *Bot) handleRemoveAdmin(c tele.Context) error {
	id, ok := parseUserID(c.Message().Payload)
	if !ok {
		return c.Send("Usage: /removeadmin <user_id>")
	}
	if b.settings.IsOwner(id) {
		return c.Send("❌ The owner cannot be removed.")
	}
	removed, err := b.settings.RemoveAdmin(id)
	if err != nil {
		b.logger.Error("could not save admins", "error", err)
		return c.Send("❌ Could not save the admin list: " + err.Error())
	}
	if !removed {
		return c.Send(fmt.Sprintf("ℹ️ %d is not an admin.", id))
	}
	return c.Send(fmt.Sprintf("✅ Removed %d from admins.", id))
}

func (b *Bot) handleAdminList(c tele.Context) error {
	admins, err := b.settings.Admins()
	if err != nil {
		return c.Send("❌ Could not read the admin list: " + err.Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👑 Owner: %d\n", b.settings.Owner())
	if len(admins) == 0 {
		sb.WriteString("No additional admins.")
		return c.Send(sb.String())
	}
	sb.WriteString("Admins:\n")
	for _, id := range admins {
		fmt.Fprintf(&sb, "• %d\n", id)
	}
	return c.Send(strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleSetChannel(c tele.Context) error {
	id := strings.TrimSpace(c.Message().Payload)
	if !reChatID.MatchString(id) && !reHandle.MatchString(id) {
		return c.Send("Usage: /setchannel <channel_id or @channel>")
	}
	if err := b.settings.SetChannel(id); err != nil {
		b.logger.Error("could not save channel", "error", err)
		return c.Send("❌ Could not save the channel: " + err.Error())
	}
	return c.Send(fmt.Sprintf("✅ Default channel set to %s. Make sure the bot is an admin there.", id))
}

func (b *Bot) handleRemoveChannel(c tele.Context) error {
	if b.settings.Channel() == "" {
		return c.Send("ℹ️ No default channel is set.")
	}
	if err := b.settings.RemoveChannel(); err != nil {
		b.logger.Error("could not save channel", "error", err)
		return c.Send("❌ Could not remove the channel: " + err.Error())
	}
	return c.Send("✅ Default channel removed.")
}

func (b *Bot) handleViewChannel(c tele.Context) error {
	ch := b.settings.Channel()
	if ch == "" {
		return c.Send("ℹ️ No default channel is set. Use /setchannel <channel_id>.")
	}
	return c.Send("📢 Default channel: " + ch)
}

func (b *Bot) handleHistory(c tele.Context) error {
	if b.ledger == nil {
		return c.Send("ℹ️ History is disabled.")
	}
	ctx, cancel := b.requestContext()
	defer cancel()

	recent, err := b.ledger.Recent(ctx, c.Chat().ID, historySize)
	if err != nil {
		b.logger.Warn("history lookup failed", "chat_id", c.Chat().ID, "error", err)
		return c.Send("❌ Could not read history: " + err.Error())
	}
	if len(recent) == 0 {
		return c.Send("ℹ️ Nothing delivered yet.")
	}

	total, err := b.ledger.Count(ctx, c.Chat().ID)
	if err != nil {
		b.logger.Warn("history count failed", "chat_id", c.Chat().ID, "error", err)
		total = len(recent)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🕘 Recent deliveries (%d of %d):\n\n", len(recent), total)
	for _, d := range recent {
		mode := "single"
		if d.Bulk {
			mode = "bulk"
		}
		fmt.Fprintf(&sb, "%s  %s [%s, %s] → %s\n",
			d.DeliveredAt.Format("2006-01-02 15:04"), d.Title, strings.ToUpper(d.Format), mode, d.Destination)
	}
	return sendLong(c, sb.String())
}
