// Package tgui builds Telegram HTML messages.
//
// Builder escapes everything passed as plain text, so user-supplied names and
// titles can be embedded without breaking ParseMode="HTML".
package tgui
