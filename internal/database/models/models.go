package models

import "time"

// Push platforms a device token can belong to.
const (
	PlatformFCM  = "fcm"
	PlatformAPNs = "apns"
)

// PushToken is a mobile device's push registration. Tokens outlive mobile
// sessions so a logged-in app can still be woken up after its session ends.
type PushToken struct {
	ID         int64
	UserUUID   string
	TenantUUID string
	Token      string
	Platform   string // "fcm" or "apns"
	DeviceID   string
	AppVersion string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
