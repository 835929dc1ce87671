// Package tgui holds small Telegram UI helpers: HTML-safe text building and
// inline keyboard construction.
package tgui

import tele "gopkg.in/telebot.v4"

// Inline is an incremental builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns the underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (no encoding).
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}
