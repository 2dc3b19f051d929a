package vars

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Built-in computation kinds.
 *
 * Parameters name the variables a computation reads ("var", "old-var",
 * "new-var") or carry literal inputs ("revid", "since"). Reading a
 * dependency through the store may itself trigger a computation; the store
 * detects cycles.
 *
 * Line diffs are multiset differences: a line counts as added once for each
 * occurrence in the new text beyond its count in the old text. This ignores
 * moves, which is what rule authors expect from added_lines.
 */

// Computation kinds registered by NewBuiltinRegistry.
const (
	KindRevisionText    = "revision-text-by-id"
	KindLength          = "length"
	KindLowercase       = "lowercase"
	KindLinksFromText   = "links-from-text"
	KindLinkDiffAdded   = "link-diff-added"
	KindLinkDiffRemoved = "link-diff-removed"
	KindDiffAddedLines  = "diff-added-lines"
	KindDiffRemoved     = "diff-removed-lines"
	KindEditDiff        = "edit-diff"
	KindSubtractInt     = "subtract-int"
	KindAge             = "age"
)

// ErrRevisionNotFound is returned by RevisionLookup implementations for
// unknown revision IDs.
var ErrRevisionNotFound = errors.New("revision not found")

// RevisionLookup fetches stored page text.
type RevisionLookup interface {
	RevisionText(ctx context.Context, revID int64) (string, error)
}

// NewBuiltinRegistry creates a registry with every built-in kind. revs may be
// nil when no action needs historical text; now defaults to time.Now.
func NewBuiltinRegistry(revs RevisionLookup, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r := NewRegistry()
	r.Register(KindRevisionText, func(ctx context.Context, p map[string]types.Value, _ *Store) (types.Value, error) {
		id := int64(p["revid"].AsNumber())
		if id == 0 {
			return types.String(""), nil
		}
		if revs == nil {
			return types.Null, fmt.Errorf("revision %d: no revision lookup configured", id)
		}
		text, err := revs.RevisionText(ctx, id)
		if err != nil {
			return types.Null, fmt.Errorf("revision %d: %w", id, err)
		}
		return types.String(text), nil
	})
	r.Register(KindLength, func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		v, err := dependency(ctx, s, p, "var")
		if err != nil {
			return types.Null, err
		}
		if v.Kind() == types.KindList {
			return types.Int(int64(v.Len())), nil
		}
		return types.Int(int64(utf8.RuneCountInString(v.AsString()))), nil
	})
	r.Register(KindLowercase, func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		v, err := dependency(ctx, s, p, "var")
		if err != nil {
			return types.Null, err
		}
		if v.Kind() == types.KindList {
			items := make([]types.Value, v.Len())
			for i, it := range v.Items() {
				items[i] = types.String(strings.ToLower(it.AsString()))
			}
			return types.List(items...), nil
		}
		return types.String(strings.ToLower(v.AsString())), nil
	})
	r.Register(KindLinksFromText, func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		v, err := dependency(ctx, s, p, "var")
		if err != nil {
			return types.Null, err
		}
		return types.Strings(ExtractLinks(v.AsString())), nil
	})
	r.Register(KindLinkDiffAdded, linkDiff(true))
	r.Register(KindLinkDiffRemoved, linkDiff(false))
	r.Register(KindDiffAddedLines, lineDiff(true))
	r.Register(KindDiffRemoved, lineDiff(false))
	r.Register(KindEditDiff, func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		oldText, newText, err := oldAndNew(ctx, s, p)
		if err != nil {
			return types.Null, err
		}
		var sb strings.Builder
		for _, l := range subtractLines(splitLines(oldText), splitLines(newText)) {
			sb.WriteString("-" + l + "\n")
		}
		for _, l := range subtractLines(splitLines(newText), splitLines(oldText)) {
			sb.WriteString("+" + l + "\n")
		}
		return types.String(sb.String()), nil
	})
	r.Register(KindSubtractInt, func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		a, err := dependency(ctx, s, p, "var1")
		if err != nil {
			return types.Null, err
		}
		b, err := dependency(ctx, s, p, "var2")
		if err != nil {
			return types.Null, err
		}
		return types.Number(a.AsNumber() - b.AsNumber()), nil
	})
	r.Register(KindAge, func(_ context.Context, p map[string]types.Value, _ *Store) (types.Value, error) {
		since := p["since"].AsNumber()
		if since <= 0 {
			return types.Int(0), nil
		}
		age := now().Unix() - int64(since)
		if age < 0 {
			age = 0
		}
		return types.Int(age), nil
	})
	return r
}

func dependency(ctx context.Context, s *Store, p map[string]types.Value, key string) (types.Value, error) {
	name := p[key].AsString()
	if name == "" {
		return types.Null, fmt.Errorf("missing parameter %q", key)
	}
	return s.Get(ctx, name)
}

func oldAndNew(ctx context.Context, s *Store, p map[string]types.Value) (string, string, error) {
	oldV, err := dependency(ctx, s, p, "old-var")
	if err != nil {
		return "", "", err
	}
	newV, err := dependency(ctx, s, p, "new-var")
	if err != nil {
		return "", "", err
	}
	return oldV.AsString(), newV.AsString(), nil
}

func lineDiff(added bool) ComputeFunc {
	return func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		oldText, newText, err := oldAndNew(ctx, s, p)
		if err != nil {
			return types.Null, err
		}
		if added {
			return types.Strings(subtractLines(splitLines(newText), splitLines(oldText))), nil
		}
		return types.Strings(subtractLines(splitLines(oldText), splitLines(newText))), nil
	}
}

func linkDiff(added bool) ComputeFunc {
	return func(ctx context.Context, p map[string]types.Value, s *Store) (types.Value, error) {
		oldV, err := dependency(ctx, s, p, "old-var")
		if err != nil {
			return types.Null, err
		}
		newV, err := dependency(ctx, s, p, "new-var")
		if err != nil {
			return types.Null, err
		}
		oldLinks, newLinks := valueStrings(oldV), valueStrings(newV)
		if added {
			return types.Strings(setDifference(newLinks, oldLinks)), nil
		}
		return types.Strings(setDifference(oldLinks, newLinks)), nil
	}
}

func valueStrings(v types.Value) []string {
	out := make([]string, 0, v.Len())
	for _, it := range v.Items() {
		out = append(out, it.AsString())
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// subtractLines returns the lines of a not matched by a line of b, in order.
func subtractLines(a, b []string) []string {
	remaining := make(map[string]int, len(b))
	for _, l := range b {
		remaining[l]++
	}
	var out []string
	for _, l := range a {
		if remaining[l] > 0 {
			remaining[l]--
			continue
		}
		out = append(out, l)
	}
	return out
}

func setDifference(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, s := range b {
		drop[s] = true
	}
	var out []string
	for _, s := range a {
		if !drop[s] {
			out = append(out, s)
			drop[s] = true
		}
	}
	return out
}

var linkPattern = regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s<>"\[\]{}|\\^` + "`" + `]+`)

// ExtractLinks returns the distinct external links in text, in order of
// first appearance. Trailing punctuation is not part of a link.
func ExtractLinks(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range linkPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?)'")
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
