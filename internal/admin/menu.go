package admin

import (
	tele "gopkg.in/telebot.v4"

	"castbot/pkg/tgui"
)

// Callback actions. These travel as raw callback_data.
const (
	actMainMenu    = "main_menu"
	actManageUsers = "manage_users"
	actAddUser     = "add_user"
	actDeleteUser  = "delete_user"
	actListUsers   = "list_users"
	actExportUsers = "export_users"
	actSetMessage  = "set_message"
	actBroadcast   = "broadcast"
	actConfirmCast = "confirm_broadcast"
	actStats       = "stats"
)

func mainMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("👥 Manage users", actManageUsers)).
		Row(tgui.Btn("💬 Set message", actSetMessage)).
		Row(tgui.Btn("📤 Broadcast", actBroadcast)).
		Row(tgui.Btn("📊 Stats", actStats)).
		Markup()
}

func usersMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("➕ Add user", actAddUser)).
		Row(tgui.Btn("❌ Delete user", actDeleteUser)).
		Row(tgui.Btn("📋 List users", actListUsers)).
		Row(tgui.Btn("📄 Export list", actExportUsers)).
		Row(tgui.Btn("⬅️ Back", actMainMenu)).
		Markup()
}

func confirmMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("✅ Yes", actConfirmCast),
			tgui.Btn("❌ No", actMainMenu),
		).
		Markup()
}

func backMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("⬅️ Back", actMainMenu)).
		Markup()
}
