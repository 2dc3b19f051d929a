package filter

import (
	"fmt"
	"strings"

	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/types"
)

// Message keys understood without configuration. Rules may name other keys
// in their warn and disallow parameters; those are looked up in
// Config.Messages and fall back to the defaults here.
const (
	MessageWarning       = "abusefilter-warning"
	MessageDisallowed    = "abusefilter-disallowed"
	MessageBlocked       = "abusefilter-blocked-display"
	MessageBlockedDomain = "blockeddomain"
	MessageDegrouped     = "abusefilter-degrouped"
	MessageAutopromote   = "abusefilter-autopromote-blocked"
)

var defaultMessages = map[string]string{
	MessageWarning: "Warning: This action has been automatically identified as harmful. " +
		"Unconstructive actions will be quickly reverted, and egregious or repeated unconstructive editing " +
		"will result in your account or IP address being blocked. If you believe this action to be constructive, " +
		"you may submit it again to confirm it. A brief description of the abuse rule which your action matched is: $1",
	MessageDisallowed: "This action has been automatically identified as harmful, and therefore disallowed. " +
		"If you believe your action was constructive, please inform an administrator of what you were trying to do. " +
		"A brief description of the abuse rule which your action matched is: $1",
	MessageBlocked: "This action has been automatically identified as harmful, and you have been prevented from executing it. " +
		"In addition, to protect the site, your user account and all associated IP addresses have been blocked. " +
		"A brief description of the abuse rule which your action matched is: $1",
	MessageDegrouped: "This action has been automatically identified as harmful. " +
		"Consequently, it has been disallowed, and, since your account is suspected of being compromised, " +
		"all rights have been revoked. A brief description of the abuse rule which your action matched is: $1",
	MessageAutopromote: "This action has been automatically identified as harmful, and therefore disallowed. " +
		"In addition, as a security measure, some privileges routinely granted to established accounts have been " +
		"temporarily revoked from your account. A brief description of the abuse rule which your action matched is: $1",
	MessageBlockedDomain: "The text you wanted to save was blocked by the spam filter. " +
		"This is probably caused by a link to a blacklisted external site. The following domain is blocked: $1",
}

// renderMessage expands $1 with arg. Unknown keys use fallback.
func renderMessage(custom map[string]string, key, fallback, arg string) string {
	tmpl, ok := custom[key]
	if !ok {
		tmpl, ok = defaultMessages[key]
	}
	if !ok {
		tmpl, ok = custom[fallback]
	}
	if !ok {
		tmpl = defaultMessages[fallback]
	}
	return strings.ReplaceAll(tmpl, "$1", arg)
}

func ruleLabel(r *types.Rule) string {
	return fmt.Sprintf("%s (rule #%d)", r.Description, int64(r.ID))
}

// paramKey returns the message key a consequence names, if any.
func paramKey(params []string, def string) string {
	if len(params) > 0 && strings.TrimSpace(params[0]) != "" {
		return strings.TrimSpace(params[0])
	}
	return def
}

// messages builds what the actor is shown. A denied action only shows why
// it was denied; warnings are shown when nothing denied it.
func (r *Runner) messages(res *RunResult, matched []*types.Rule, plan *consequence.Plan) []Message {
	var out []Message
	refs := make(map[types.RuleID]types.LogID, len(res.LogIDs))
	for i, id := range res.LogIDs {
		if i < len(matched) {
			refs[matched[i].ID] = id
		}
	}
	withRef := func(text string, id types.RuleID) string {
		if ref, ok := refs[id]; ok {
			return fmt.Sprintf("%s Reference: %s", text, ref)
		}
		return text
	}

	for _, host := range res.BlockedDomains {
		out = append(out, Message{
			Key:  MessageBlockedDomain,
			Text: renderMessage(r.cfg.Messages, MessageBlockedDomain, MessageBlockedDomain, host),
		})
	}

	switch res.Decision {
	case types.DecisionDeny:
		for _, rule := range matched {
			var key string
			switch {
			case plan.Has(rule.ID, types.ConsequenceBlock):
				key = MessageBlocked
			case plan.Has(rule.ID, types.ConsequenceDisallow):
				key = paramKey(rule.Actions[types.ConsequenceDisallow], MessageDisallowed)
			default:
				continue
			}
			out = append(out, Message{
				Key:    key,
				RuleID: rule.ID,
				Text:   withRef(renderMessage(r.cfg.Messages, key, MessageDisallowed, ruleLabel(rule)), rule.ID),
			})
		}
	case types.DecisionWarn:
		for _, rule := range matched {
			if !plan.Has(rule.ID, types.ConsequenceWarn) {
				continue
			}
			key := paramKey(rule.Actions[types.ConsequenceWarn], MessageWarning)
			out = append(out, Message{
				Key:    key,
				RuleID: rule.ID,
				Text:   withRef(renderMessage(r.cfg.Messages, key, MessageWarning, ruleLabel(rule)), rule.ID),
			})
		}
	}
	return out
}
