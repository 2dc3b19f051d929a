package vars

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/abusefilter/internal/types"
)

// Generator builds the variable store for an action. Cheap facts are set
// directly; anything that needs I/O or scans page text is deferred.
type Generator struct {
	computer Computer
}

// NewGenerator creates a generator whose stores resolve with computer.
func NewGenerator(computer Computer) *Generator {
	return &Generator{computer: computer}
}

// Build returns a fresh store for ac.
func (g *Generator) Build(ac types.ActionContext) (*Store, error) {
	if !ac.Kind.Valid() {
		return nil, fmt.Errorf("build variables: unknown action kind %q", ac.Kind)
	}
	b := &builder{store: NewStore(g.computer)}

	b.set("action", types.String(string(ac.Kind)))
	if !ac.Timestamp.IsZero() {
		b.set("timestamp", types.Int(ac.Timestamp.Unix()))
	}
	b.userVars(ac.Actor)

	switch ac.Kind {
	case types.ActionEdit:
		b.set("summary", types.String(ac.Summary))
		b.pageVars("page", ac.Target)
		b.editVars(ac.Edit)
	case types.ActionMove:
		b.set("summary", types.String(ac.Summary))
		b.pageVars("moved_from", ac.Target)
		if ac.Move != nil {
			b.pageVars("moved_to", ac.Move.To)
		}
	case types.ActionDelete:
		b.set("summary", types.String(ac.Summary))
		b.pageVars("page", ac.Target)
	case types.ActionUpload, types.ActionStashUpload:
		b.set("summary", types.String(ac.Summary))
		b.pageVars("page", ac.Target)
		b.uploadVars(ac.Upload)
	case types.ActionCreateAccount, types.ActionAutoCreateAccount:
		b.set("accountname", types.String(ac.AccountName))
	}
	return b.store, b.err
}

type builder struct {
	store *Store
	err   error
}

func (b *builder) set(name string, v types.Value) {
	if b.err == nil {
		b.err = b.store.Set(name, v)
	}
}

func (b *builder) deferred(name, kind string, params map[string]types.Value) {
	if b.err == nil {
		b.err = b.store.SetDeferred(name, kind, params)
	}
}

func varParam(name string) map[string]types.Value {
	return map[string]types.Value{"var": types.String(name)}
}

func diffParams(oldVar, newVar string) map[string]types.Value {
	return map[string]types.Value{"old-var": types.String(oldVar), "new-var": types.String(newVar)}
}

func (b *builder) userVars(u types.Actor) {
	b.set("user_name", types.String(u.Name))
	b.set("user_editcount", types.Int(u.EditCount))
	b.set("user_groups", types.Strings(append([]string{"*"}, u.Groups...)))
	b.set("user_rights", types.Strings(u.Rights))
	b.set("user_emailconfirm", types.Bool(u.EmailConfirmed))
	b.set("user_blocked", types.Bool(u.Blocked))
	if u.Anonymous() {
		b.set("user_unnamed_ip", types.String(u.IP))
		b.set("user_age", types.Int(0))
		return
	}
	b.deferred("user_age", KindAge, sinceParam(u.Registered))
}

func sinceParam(t time.Time) map[string]types.Value {
	if t.IsZero() {
		return map[string]types.Value{"since": types.Int(0)}
	}
	return map[string]types.Value{"since": types.Int(t.Unix())}
}

func (b *builder) pageVars(prefix string, p types.Page) {
	b.set(prefix+"_id", types.Int(p.ID))
	b.set(prefix+"_namespace", types.Int(int64(p.Namespace)))
	b.set(prefix+"_title", types.String(p.Title))
	b.set(prefix+"_prefixedtitle", types.String(PrefixedTitle(p.Namespace, p.Title)))
	b.deferred(prefix+"_age", KindAge, sinceParam(p.CreatedAt))
	if prefix != "page" {
		return
	}
	for _, action := range []string{"edit", "move", "create", "upload"} {
		b.set("page_restrictions_"+action, types.Strings(p.Restrictions[action]))
	}
	b.set("page_recent_contributors", types.Strings(p.RecentContributors))
	b.set("page_first_contributor", types.String(p.FirstContributor))
}

func (b *builder) editVars(e *types.EditDetails) {
	if e == nil {
		e = &types.EditDetails{}
	}
	if e.OldText != nil {
		b.set("old_wikitext", types.String(*e.OldText))
	} else {
		b.deferred("old_wikitext", KindRevisionText, map[string]types.Value{"revid": types.Int(e.OldRevisionID)})
	}
	b.set("new_wikitext", types.String(e.NewText))
	b.set("minor_edit", types.Bool(e.Minor))
	b.set("new_content_model", types.String(e.ContentModel))
	b.set("old_content_model", types.String(e.OldModel))

	b.deferred("new_wikitext_lower", KindLowercase, varParam("new_wikitext"))
	b.deferred("old_size", KindLength, varParam("old_wikitext"))
	b.deferred("new_size", KindLength, varParam("new_wikitext"))
	b.deferred("edit_delta", KindSubtractInt, map[string]types.Value{
		"var1": types.String("new_size"),
		"var2": types.String("old_size"),
	})
	b.deferred("edit_diff", KindEditDiff, diffParams("old_wikitext", "new_wikitext"))
	b.deferred("added_lines", KindDiffAddedLines, diffParams("old_wikitext", "new_wikitext"))
	b.deferred("removed_lines", KindDiffRemoved, diffParams("old_wikitext", "new_wikitext"))
	b.deferred("added_lines_lower", KindLowercase, varParam("added_lines"))
	b.deferred("old_links", KindLinksFromText, varParam("old_wikitext"))
	b.deferred("all_links", KindLinksFromText, varParam("new_wikitext"))
	b.deferred("added_links", KindLinkDiffAdded, diffParams("old_links", "all_links"))
	b.deferred("removed_links", KindLinkDiffRemoved, diffParams("old_links", "all_links"))
}

func (b *builder) uploadVars(u *types.UploadDetails) {
	if u == nil {
		u = &types.UploadDetails{}
	}
	b.set("file_sha1", types.String(strings.ToLower(u.SHA1)))
	b.set("file_size", types.Int(u.Size))
	b.set("file_mime", types.String(u.MIME))
	b.set("file_mediatype", types.String(u.MediaType))
	b.set("file_width", types.Int(int64(u.Width)))
	b.set("file_height", types.Int(int64(u.Height)))
	b.set("file_bits_per_channel", types.Int(int64(u.BitsPerChannel)))

	b.set("old_wikitext", types.String(""))
	b.set("new_wikitext", types.String(u.PageText))
	b.deferred("all_links", KindLinksFromText, varParam("new_wikitext"))
	b.deferred("added_links", KindLinksFromText, varParam("new_wikitext"))
}
