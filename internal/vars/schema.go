package vars

import "sort"

// Schema lists every variable a rule may reference, with a short description.
// A name missing from an action's store but present here is "not set for this
// action"; a name absent from both is unrecognised.
var Schema = map[string]string{
	"action":    "Action kind",
	"timestamp": "Unix timestamp of the action",
	"summary":   "Edit summary or reason",

	"user_name":         "Account name, or IP for anonymous users",
	"user_editcount":    "Edit count",
	"user_groups":       "Groups the user belongs to",
	"user_rights":       "Rights the user holds",
	"user_age":          "Seconds since registration",
	"user_emailconfirm": "Whether the email address is confirmed",
	"user_blocked":      "Whether the user is blocked",
	"user_unnamed_ip":   "IP of an anonymous user",

	"page_id":                  "Page ID",
	"page_namespace":           "Page namespace number",
	"page_title":               "Page title without namespace",
	"page_prefixedtitle":       "Page title with namespace",
	"page_age":                 "Seconds since page creation",
	"page_restrictions_edit":   "Edit protection level",
	"page_restrictions_move":   "Move protection level",
	"page_restrictions_create": "Create protection level",
	"page_restrictions_upload": "Upload protection level",
	"page_recent_contributors": "Last ten users to contribute to the page",
	"page_first_contributor":   "First user to contribute to the page",

	"moved_from_id":            "ID of the page being moved",
	"moved_from_namespace":     "Namespace of the page being moved",
	"moved_from_title":         "Title of the page being moved",
	"moved_from_prefixedtitle": "Prefixed title of the page being moved",
	"moved_from_age":           "Age of the page being moved",
	"moved_to_id":              "ID of the move target",
	"moved_to_namespace":       "Namespace of the move target",
	"moved_to_title":           "Title of the move target",
	"moved_to_prefixedtitle":   "Prefixed title of the move target",
	"moved_to_age":             "Age of the move target",

	"old_wikitext":       "Page text before the edit",
	"new_wikitext":       "Page text after the edit",
	"old_size":           "Page size before the edit",
	"new_size":           "Page size after the edit",
	"edit_delta":         "Size change",
	"edit_diff":          "Line diff of the edit",
	"added_lines":        "Lines added by the edit",
	"removed_lines":      "Lines removed by the edit",
	"added_lines_lower":  "Lines added by the edit, lower case",
	"new_wikitext_lower": "Page text after the edit, lower case",
	"added_links":        "External links added by the edit",
	"removed_links":      "External links removed by the edit",
	"old_links":          "External links before the edit",
	"all_links":          "External links after the edit",
	"old_content_model":  "Content model before the edit",
	"new_content_model":  "Content model after the edit",
	"minor_edit":         "Whether the edit is marked minor",

	"file_sha1":             "SHA1 of the uploaded file",
	"file_size":             "Size of the uploaded file in bytes",
	"file_mime":             "MIME type of the uploaded file",
	"file_mediatype":        "Media type of the uploaded file",
	"file_width":            "Width of the uploaded file",
	"file_height":           "Height of the uploaded file",
	"file_bits_per_channel": "Bits per colour channel of the uploaded file",

	"accountname": "Name of the account being created",
}

// deprecated maps legacy names to their current equivalents.
var deprecated = map[string]string{
	"article_articleid":           "page_id",
	"article_namespace":           "page_namespace",
	"article_text":                "page_title",
	"article_prefixedtext":        "page_prefixedtitle",
	"article_restrictions_edit":   "page_restrictions_edit",
	"article_restrictions_move":   "page_restrictions_move",
	"article_restrictions_create": "page_restrictions_create",
	"article_restrictions_upload": "page_restrictions_upload",
	"article_recent_contributors": "page_recent_contributors",
	"article_first_contributor":   "page_first_contributor",
	"moved_from_articleid":        "moved_from_id",
	"moved_from_text":             "moved_from_title",
	"moved_from_prefixedtext":     "moved_from_prefixedtitle",
	"moved_to_articleid":          "moved_to_id",
	"moved_to_text":               "moved_to_title",
	"moved_to_prefixedtext":       "moved_to_prefixedtitle",
}

// Canonical maps a deprecated variable name to its current name.
func Canonical(name string) string {
	if to, ok := deprecated[name]; ok {
		return to
	}
	return name
}

// IsKnown reports whether name (or its deprecated alias) is in the schema.
func IsKnown(name string) bool {
	_, ok := Schema[Canonical(name)]
	return ok
}

// Names lists the schema in sorted order.
func Names() []string {
	out := make([]string, 0, len(Schema))
	for name := range Schema {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var namespaceNames = map[int]string{
	-2: "Media", -1: "Special",
	1:  "Talk", 2: "User", 3: "User talk", 4: "Project", 5: "Project talk",
	6:  "File", 7: "File talk", 8: "MediaWiki", 9: "MediaWiki talk",
	10: "Template", 11: "Template talk", 12: "Help", 13: "Help talk",
	14: "Category", 15: "Category talk",
}

// PrefixedTitle renders a title with its namespace prefix.
func PrefixedTitle(ns int, title string) string {
	if prefix, ok := namespaceNames[ns]; ok {
		return prefix + ":" + title
	}
	return title
}
