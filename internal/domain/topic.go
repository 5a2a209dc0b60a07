package domain

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/yasushisakai/ornot-server/internal/utils"
)

// Vote maps plan ids (or delegate user ids) to weights.
type Vote map[string]float64

func (v Vote) Validate() error {
	for target, weight := range v {
		if target == "" {
			return ValidationError{Field: "vote", Reason: "empty target"}
		}
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
			return ValidationError{Field: "vote", Reason: "weights must be finite and non-negative"}
		}
	}
	return nil
}

// Setting is the mutable voting state of a topic.
type Setting struct {
	Voters []string        `json:"voters"`
	Plans  []string        `json:"plans"`
	Votes  map[string]Vote `json:"votes"`
}

func NewSetting() Setting {
	return Setting{
		Voters: []string{},
		Plans:  []string{},
		Votes:  map[string]Vote{},
	}
}

func insertSorted(list []string, item string) []string {
	i, found := slices.BinarySearch(list, item)
	if found {
		return list
	}
	return slices.Insert(list, i, item)
}

func removeSorted(list []string, item string) []string {
	i, found := slices.BinarySearch(list, item)
	if !found {
		return list
	}
	return slices.Delete(list, i, i+1)
}

func (s *Setting) AddVoter(userID string) {
	s.Voters = insertSorted(s.Voters, userID)
}

// RemoveVoter also drops the voter's ballot.
func (s *Setting) RemoveVoter(userID string) {
	s.Voters = removeSorted(s.Voters, userID)
	delete(s.Votes, userID)
}

func (s *Setting) HasVoter(userID string) bool {
	_, found := slices.BinarySearch(s.Voters, userID)
	return found
}

func (s *Setting) AddPlan(planID string) {
	s.Plans = insertSorted(s.Plans, planID)
}

func (s *Setting) RemovePlan(planID string) {
	s.Plans = removeSorted(s.Plans, planID)
}

// OverwriteVote replaces the user's whole ballot.
func (s *Setting) OverwriteVote(userID string, vote Vote) {
	if s.Votes == nil {
		s.Votes = map[string]Vote{}
	}
	s.Votes[userID] = vote
}

// Normalized returns a copy with sorted, de-duplicated voters and plans.
func (s Setting) Normalized() Setting {
	n := NewSetting()
	for _, v := range s.Voters {
		n.AddVoter(v)
	}
	for _, p := range s.Plans {
		n.AddPlan(p)
	}
	for user, vote := range s.Votes {
		n.Votes[user] = vote
	}
	return n
}

// Canonical is the serialization the setting hash is computed over.
// Slices are kept sorted and encoding/json sorts map keys.
func (s Setting) Canonical() []byte {
	c := s
	c.Voters = slices.Sorted(slices.Values(s.Voters))
	c.Plans = slices.Sorted(slices.Values(s.Plans))
	if c.Voters == nil {
		c.Voters = []string{}
	}
	if c.Plans == nil {
		c.Plans = []string{}
	}
	if c.Votes == nil {
		c.Votes = map[string]Vote{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		// a Setting only holds strings and finite floats
		panic(err)
	}
	return b
}

// Hash is the content hash that gates recomputation.
func (s Setting) Hash() string {
	sum := xxh3.Hash128(s.Canonical()).Bytes()
	return hex.EncodeToString(sum[:])
}

// PollResult is the output of the tally engine.
type PollResult struct {
	Ranking    utils.OrderedKVMap[float64] `json:"ranking"`
	VoterCount int                         `json:"voterCount"`
	ComputedAt time.Time                   `json:"computedAt"`
}

// SettingSnapshot is cached at "setting:{hash}" so identical voting states share a result.
type SettingSnapshot struct {
	SettingHash string      `json:"hash"`
	Setting     Setting     `json:"setting"`
	Result      *PollResult `json:"result,omitempty"`
}

func (s SettingSnapshot) ID() string        { return s.SettingHash }
func (s SettingSnapshot) KeyPrefix() string { return PrefixSetting }
func (s SettingSnapshot) ListItem() string  { return "" }

// Topic is a named poll.
type Topic struct {
	TopicID         string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	SettingHash     string      `json:"setting_hash"`
	SettingPrevHash string      `json:"setting_prev_hash"`
	Setting         Setting     `json:"setting"`
	Result          *PollResult `json:"result"`
}

// PartialTopic is the body of PUT /api/v1/topic.
type PartialTopic struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (p PartialTopic) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return ValidationError{Field: "title", Reason: "must not be empty"}
	}
	return nil
}

func NewTopic(p PartialTopic) Topic {
	return Topic{
		TopicID:         TopicID(p.Title, p.Description),
		Title:           p.Title,
		Description:     p.Description,
		SettingHash:     InitialSettingHash,
		SettingPrevHash: InitialSettingHash,
		Setting:         NewSetting(),
	}
}

func TopicID(title, description string) string {
	return ContentID(title + description)
}

func (t Topic) ID() string        { return t.TopicID }
func (t Topic) KeyPrefix() string { return PrefixTopic }

// ListItem is the JSON pair [id, title].
func (t Topic) ListItem() string {
	b, _ := json.Marshal([]string{t.TopicID, t.Title})
	return string(b)
}

// TopicIDFromListItem recovers the id from a "topics" set member.
func TopicIDFromListItem(item string) string {
	var pair []string
	if err := json.Unmarshal([]byte(item), &pair); err != nil || len(pair) == 0 {
		return ""
	}
	return pair[0]
}

// InsertVote overwrites the ballot and returns the new setting hash.
func (t *Topic) InsertVote(userID string, vote Vote) string {
	t.Setting.OverwriteVote(userID, vote)
	return t.Setting.Hash()
}

func (t *Topic) UpdateSettingHash(newHash string) {
	t.SettingPrevHash = t.SettingHash
	t.SettingHash = newHash
}

// TopicSummary is one entry of GET /api/v1/topics.
type TopicSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s TopicSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{s.ID, s.Title})
}

func (s *TopicSummary) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return ValidationError{Field: "topic", Reason: "expected [id, title]"}
	}
	s.ID, s.Title = pair[0], pair[1]
	return nil
}

// ParseTopicSummary decodes a "topics" set member.
func ParseTopicSummary(item string) (TopicSummary, bool) {
	var s TopicSummary
	if err := json.Unmarshal([]byte(item), &s); err != nil {
		return TopicSummary{}, false
	}
	return s, true
}

const TopicEventUpdated = "topic.updated"

// TopicEvent is published whenever a topic is re-tallied.
type TopicEvent struct {
	Type        string      `json:"type"`
	TopicID     string      `json:"topicId"`
	SettingHash string      `json:"settingHash"`
	Result      *PollResult `json:"result,omitempty"`
}
