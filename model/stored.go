package model

import "time"

// StoredMessage is the row core/queue persists: a flattened, gorm-tagged
// projection of Message for rulesets that attach a main queue.
type StoredMessage struct {
	ID          uint      `gorm:"primaryKey"`
	ReceivedAt  time.Time `gorm:"index"`
	Payload     string    `gorm:"type:text"`
	PeerAddr    string    `gorm:"index"`
	PeerFQDN    string
	InputName   string `gorm:"index"`
	RulesetName string `gorm:"index"`
	Facility    int
	Severity    int
	Hostname    string `gorm:"index"`
	AppName     string
	ParsedBy    string
}

func (StoredMessage) TableName() string { return "ruleset_message" }
