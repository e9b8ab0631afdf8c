package crm

import "encoding/json"

// PageResult is one page of an AlfaCRM index response. Items are kept
// opaque; the bot consumes the raw CRM records as-is.
type PageResult struct {
	Total int               `json:"total"`
	Count int               `json:"count"`
	Items []json.RawMessage `json:"items"`
}

// CustomerDraft carries the Telegram profile data a new CRM customer is
// created from.
type CustomerDraft struct {
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// Lesson statuses and types as AlfaCRM numbers them.
const (
	LessonStatusPlanned  = 1
	LessonStatusCanceled = 2
	LessonStatusHeld     = 3

	LessonTypeGroup = 2
	LessonTypeTrial = 3
)

// Branches are the physical club locations. The CRM only answers per-branch
// queries, so lookups fan out across all of them.
var branches = []int{1, 2, 3, 4}

// studyStatuses are the customer is_study values: 0 not studying, 1 studying.
var studyStatuses = []int{0, 1}
