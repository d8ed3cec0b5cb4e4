package out

import "context"

// AlertNotifier delivers operational alerts to the admin list.
type AlertNotifier interface {
	SendAlert(ctx context.Context, subject, body string) error
}
