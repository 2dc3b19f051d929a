package consequence

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/types"
)

const throttleCounter = "throttle"

// ThrottleHandler gates a rule's other consequences on a rate: they apply
// only once the actor has tripped the rule more than count times in period.
//
// Params: ["count,period", scope...]. period is in seconds. Each scope is a
// comma separated combination of ip, user, range, page, creationdate,
// editcount and site; the limit trips when any scope reaches it.
type ThrottleHandler struct {
	Counts countstore.CountStore
}

type throttleSpec struct {
	count  int64
	period time.Duration
	scopes []string
}

func parseThrottle(params []string) (throttleSpec, error) {
	var spec throttleSpec
	if len(params) == 0 {
		return spec, fmt.Errorf("throttle: missing rate")
	}
	c, p, ok := strings.Cut(params[0], ",")
	if !ok {
		return spec, fmt.Errorf("throttle: invalid rate %q", params[0])
	}
	count, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
	if err != nil || count < 0 {
		return spec, fmt.Errorf("throttle: invalid count %q", c)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
	if err != nil || secs <= 0 {
		return spec, fmt.Errorf("throttle: invalid period %q", p)
	}
	spec.count = count
	spec.period = time.Duration(secs) * time.Second
	spec.scopes = params[1:]
	if len(spec.scopes) == 0 {
		spec.scopes = []string{"site"}
	}
	return spec, nil
}

func scopeValue(ac *types.ActionContext, scope string) (string, error) {
	var parts []string
	for _, s := range strings.Split(scope, ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "ip":
			parts = append(parts, "ip="+ac.Actor.IP)
		case "user":
			if ac.Actor.Anonymous() {
				parts = append(parts, "user="+ac.Actor.IP)
			} else {
				parts = append(parts, "user="+strconv.FormatInt(ac.Actor.ID, 10))
			}
		case "range":
			parts = append(parts, "range="+ipRange(ac.Actor.IP))
		case "page":
			parts = append(parts, fmt.Sprintf("page=%d:%s", ac.Target.Namespace, ac.Target.Title))
		case "creationdate":
			parts = append(parts, "creationdate="+ac.Actor.Registered.UTC().Format("20060102"))
		case "editcount":
			parts = append(parts, "editcount="+strconv.FormatInt(ac.Actor.EditCount, 10))
		case "site":
			parts = append(parts, "site")
		default:
			return "", fmt.Errorf("throttle: unknown scope %q", s)
		}
	}
	return strings.Join(parts, "&"), nil
}

// ipRange is the /16 (IPv4) or /64 (IPv6) containing ip.
func ipRange(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	bits := 64
	if addr.Is4() {
		bits = 16
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return p.String()
}

// Preflight counts this action and reports whether the rule's other
// consequences apply.
func (h *ThrottleHandler) Preflight(ctx context.Context, ac *types.ActionContext, item Item) (Verdict, error) {
	spec, err := parseThrottle(item.Params)
	if err != nil {
		return Proceed, err
	}
	hit := false
	for _, scope := range spec.scopes {
		val, err := scopeValue(ac, scope)
		if err != nil {
			return Proceed, err
		}
		key := fmt.Sprintf("%d/%s", int64(item.RuleID), val)
		n, err := h.Counts.GetCount(ctx, throttleCounter, key, spec.period)
		if err != nil {
			return Proceed, err
		}
		if n >= spec.count {
			hit = true
		}
		if _, err := countstore.Increment(ctx, h.Counts, throttleCounter, key, spec.period); err != nil {
			return Proceed, err
		}
	}
	if hit {
		return Proceed, nil
	}
	return SkipRule, nil
}

// Apply has nothing to do; the gate acts in Preflight.
func (h *ThrottleHandler) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	return Effect{}, nil
}
