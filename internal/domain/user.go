package domain

import "time"

// User is a trader known to the bot.
type User struct {
	ID                 string
	Username           string
	TradesCompleted    int
	VolumeTraded       int64
	Disputes           int
	Banned             bool
	Admin              bool
	DefaultCommunityID string
	CreatedAt          time.Time
}
