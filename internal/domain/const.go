package domain

import "time"

const (
	PrefixUser        = "user"
	PrefixTopic       = "topic"
	PrefixPlan        = "plan"
	PrefixSetting     = "setting"
	PrefixTempCode    = "temp_code"
	PrefixAccessToken = "access_token"
)

// TempCodeTTL is the lifetime of an emailed one-time code.
const TempCodeTTL = 1800 * time.Second

// InitialSettingHash marks a topic whose setting has never been tallied.
const InitialSettingHash = "0"

const (
	RequesterIdCtxKey = "ornot-requesterId"
)
