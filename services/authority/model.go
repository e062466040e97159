package authority

import (
	"time"
)

type Role string

const (
	RoleConstrained Role = "constrained"
	RoleElevated    Role = "elevated"
)

var roleRank = map[Role]int{
	RoleConstrained: 0,
	RoleElevated:    1,
}

// ParseRole maps a config/API string onto a known role, defaulting to
// constrained for anything unrecognised.
func ParseRole(s string) Role {
	if Role(s) == RoleElevated {
		return RoleElevated
	}
	return RoleConstrained
}

// Meets reports whether the role satisfies the given floor.
func (r Role) Meets(floor Role) bool {
	return roleRank[r] >= roleRank[floor]
}

type Category string

const (
	CategorySuggest           Category = "suggest"
	CategoryAnalyze           Category = "analyze"
	CategoryDraft             Category = "draft"
	CategorySchedule          Category = "schedule"
	CategoryArchive           Category = "archive"
	CategorySend              Category = "send"
	CategoryDelete            Category = "delete"
	CategoryAutonomousExecute Category = "autonomous_execute"
)

// Action is one row of the action registry. Gating a new action means adding
// a row, not a conditional.
type Action struct {
	ID                 string    `gorm:"column:id;primaryKey" json:"id"`
	Category           Category  `gorm:"column:category" json:"category"`
	MinRole            Role      `gorm:"column:min_role" json:"min_role"`
	RequiredCapability string    `gorm:"column:required_capability" json:"required_capability,omitempty"`
	CreatedAt          time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Action) TableName() string {
	return "actions"
}

// Decision is computed per request and never persisted.
type Decision struct {
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	BlockedReason        string `json:"blocked_reason,omitempty"`
	SuggestedAlternative string `json:"suggested_alternative,omitempty"`
}

var defaultActions = []Action{
	{ID: "suggest_reply", Category: CategorySuggest, MinRole: RoleConstrained},
	{ID: "analyze_priority", Category: CategoryAnalyze, MinRole: RoleConstrained},
	{ID: "draft_reply", Category: CategoryDraft, MinRole: RoleConstrained},
	{ID: "schedule_meeting", Category: CategorySchedule, MinRole: RoleConstrained, RequiredCapability: "auto_schedule"},
	{ID: "archive_thread", Category: CategoryArchive, MinRole: RoleConstrained, RequiredCapability: "auto_archive"},
	{ID: "send_message", Category: CategorySend, MinRole: RoleElevated, RequiredCapability: "auto_send"},
	{ID: "delete_thread", Category: CategoryDelete, MinRole: RoleElevated},
	{ID: "run_autonomous_workflow", Category: CategoryAutonomousExecute, MinRole: RoleElevated, RequiredCapability: "auto_send"},
}

// blockedReasons explains a role-floor denial per category.
var blockedReasons = map[Category]string{
	CategoryDraft:             "drafting on your behalf requires a higher role",
	CategorySchedule:          "scheduling on your behalf requires a higher role",
	CategoryArchive:           "archiving on your behalf requires a higher role",
	CategorySend:              "sending on your behalf requires the elevated role",
	CategoryDelete:            "deleting requires the elevated role",
	CategoryAutonomousExecute: "autonomous execution requires the elevated role",
}

// deniedAlternatives suggests a lower-risk action when the role floor blocks
// the requested one.
var deniedAlternatives = map[Category]string{
	CategorySend:              "draft_reply",
	CategoryDelete:            "archive_thread",
	CategoryAutonomousExecute: "suggest_reply",
}

// confirmationTable holds the per-role default once role floor and capability
// checks have passed. send and delete always confirm.
var confirmationTable = map[Category]map[Role]bool{
	CategorySuggest:           {RoleConstrained: false, RoleElevated: false},
	CategoryAnalyze:           {RoleConstrained: false, RoleElevated: false},
	CategoryDraft:             {RoleConstrained: false, RoleElevated: false},
	CategorySchedule:          {RoleConstrained: true, RoleElevated: false},
	CategoryArchive:           {RoleConstrained: true, RoleElevated: false},
	CategorySend:              {RoleConstrained: true, RoleElevated: true},
	CategoryDelete:            {RoleConstrained: true, RoleElevated: true},
	CategoryAutonomousExecute: {RoleConstrained: true, RoleElevated: false},
}

func validCategory(c Category) bool {
	_, ok := confirmationTable[c]
	return ok
}
