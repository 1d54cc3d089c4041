package gamecode

import (
	"context"

	gc "poolbot/internal/gamecode"
	kit "poolbot/internal/transport"
)

// AdapterSender delivers game codes through the platform's private messages.
// Text is sent as plain text so codes never need escaping.
func AdapterSender(ad kit.Adapter) gc.Sender {
	return gc.SenderFunc(func(ctx context.Context, userID int64, text string) error {
		_, err := ad.SendPrivate(ctx, userID, text, &kit.SendOptions{DisablePreview: true})
		return err
	})
}
