package models

import "time"

// BannedWord is one content guard entry. Word is stored lowercased and
// unique; Partial entries match as substrings, otherwise the match is
// whole-word.
type BannedWord struct {
	Word    string    `json:"word"`
	Partial bool      `json:"partial"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}
