package types

import "time"

// ActionKind identifies what the actor is attempting.
type ActionKind string

const (
	ActionEdit              ActionKind = "edit"
	ActionMove              ActionKind = "move"
	ActionDelete            ActionKind = "delete"
	ActionUpload            ActionKind = "upload"
	ActionStashUpload       ActionKind = "stashupload"
	ActionCreateAccount     ActionKind = "createaccount"
	ActionAutoCreateAccount ActionKind = "autocreateaccount"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionEdit, ActionMove, ActionDelete, ActionUpload, ActionStashUpload,
		ActionCreateAccount, ActionAutoCreateAccount:
		return true
	}
	return false
}

// Actor is the user performing an action. Anonymous actors have ID 0 and
// their IP address as Name.
type Actor struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	EditCount      int64     `json:"edit_count"`
	Groups         []string  `json:"groups,omitempty"`
	Rights         []string  `json:"rights,omitempty"`
	Registered     time.Time `json:"registered,omitempty"`
	EmailConfirmed bool      `json:"email_confirmed,omitempty"`
	Blocked        bool      `json:"blocked,omitempty"`
	IP             string    `json:"ip,omitempty"`
}

// Anonymous reports whether the actor has no account.
func (a Actor) Anonymous() bool { return a.ID == 0 }

// Page is the target of an action.
type Page struct {
	ID                 int64               `json:"id"`
	Namespace          int                 `json:"namespace"`
	Title              string              `json:"title"`
	CreatedAt          time.Time           `json:"created_at,omitempty"`
	Restrictions       map[string][]string `json:"restrictions,omitempty"`
	RecentContributors []string            `json:"recent_contributors,omitempty"`
	FirstContributor   string              `json:"first_contributor,omitempty"`
}

// EditDetails describes an edit. When OldText is nil the previous text is
// fetched lazily by OldRevisionID.
type EditDetails struct {
	OldRevisionID int64   `json:"old_revision_id,omitempty"`
	OldText       *string `json:"old_text,omitempty"`
	NewText       string  `json:"new_text"`
	ContentModel  string  `json:"content_model,omitempty"`
	OldModel      string  `json:"old_model,omitempty"`
	Minor         bool    `json:"minor,omitempty"`
}

// MoveDetails describes a page move.
type MoveDetails struct {
	To Page `json:"to"`
}

// UploadDetails describes a file upload.
type UploadDetails struct {
	SHA1           string `json:"sha1"`
	Size           int64  `json:"size"`
	MIME           string `json:"mime"`
	MediaType      string `json:"media_type"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	BitsPerChannel int    `json:"bits_per_channel"`
	PageText       string `json:"page_text,omitempty"`
}

// ActionContext is everything the runner knows about one attempted action.
type ActionContext struct {
	Kind        ActionKind     `json:"kind"`
	Actor       Actor          `json:"actor"`
	Target      Page           `json:"target"`
	Summary     string         `json:"summary,omitempty"`
	Edit        *EditDetails   `json:"edit,omitempty"`
	Move        *MoveDetails   `json:"move,omitempty"`
	Upload      *UploadDetails `json:"upload,omitempty"`
	AccountName string         `json:"account_name,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
