package models

import (
	"time"
)

// Entry is one primary record of the keyed store.
type Entry struct {
	Key       string     `json:"key" gorm:"column:entry_key;primaryKey;type:text"`
	Value     []byte     `json:"value" gorm:"type:bytea;not null"`
	ExpiresAt *time.Time `json:"expiresAt" gorm:"type:timestamp with time zone;index"`
	MDate     time.Time  `json:"mdate" gorm:"autoUpdateTime"`
}

func (Entry) TableName() string { return "kv_entries" }

// SetMember is one member of a collection set such as "users".
type SetMember struct {
	SetKey string    `json:"set" gorm:"column:set_key;primaryKey;type:text"`
	Member string    `json:"member" gorm:"primaryKey;type:text"`
	CDate  time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

func (SetMember) TableName() string { return "set_members" }
