package zulip

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/channels"
	"github.com/nextlevelbuilder/zulipgate/internal/config"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
)

// Action is the policy outcome for one inbound message.
type Action int

const (
	// ActionDrop discards the message silently.
	ActionDrop Action = iota
	// ActionProcess runs the message through routing and reply generation.
	ActionProcess
	// ActionPairing registers a pairing request instead of replying.
	ActionPairing
)

// Verdict is the full policy result.
type Verdict struct {
	Action Action
	// CleanBody is the content with mention markup stripped (ActionProcess).
	CleanBody string
	// Authorized reports whether the sender may trigger command-level
	// actions (spec: DMs always; streams via the allow-list check).
	Authorized bool
	// Reason is a short label for debug logging.
	Reason string
}

// AllowList is the normalized set of allowed identity tokens, unioned from
// static config and the pairing store. Rebuilt per evaluation because the
// store may change between messages.
type AllowList struct {
	tokens   map[string]bool
	wildcard bool
}

// NewAllowList normalizes and unions the given token sources.
func NewAllowList(sources ...[]string) AllowList {
	al := AllowList{tokens: make(map[string]bool)}
	for _, src := range sources {
		for _, raw := range src {
			t := channels.NormalizeIdentity(raw)
			if t == "" {
				continue
			}
			if t == "*" {
				al.wildcard = true
				continue
			}
			al.tokens[t] = true
		}
	}
	return al
}

// Empty reports whether no tokens (and no wildcard) are configured.
func (al AllowList) Empty() bool {
	return !al.wildcard && len(al.tokens) == 0
}

// Contains matches case-insensitively on any of id, email or display name.
func (al AllowList) Contains(id, email, name string) bool {
	if al.wildcard {
		return true
	}
	for _, v := range []string{id, email, name} {
		if v == "" {
			continue
		}
		if al.tokens[channels.NormalizeIdentity(v)] {
			return true
		}
	}
	return false
}

// Policy evaluates access and mention rules for inbound messages.
// Pure with respect to message state; allow-lists are passed per call.
type Policy struct {
	dmPolicy         channels.DMPolicy
	autoReplyStreams map[string]bool
	mentionPatterns  []*regexp.Regexp
	staticAllow      []string
	pairing          store.PairingStore
	channelName      string
}

// NewPolicy builds a Policy from channel config. Invalid mention patterns
// are rejected so misconfiguration surfaces at startup.
func NewPolicy(cfg config.ZulipConfig, pairing store.PairingStore, channelName string) (*Policy, error) {
	dmPolicy := channels.DMPolicy(cfg.DMPolicy)
	if dmPolicy == "" {
		dmPolicy = channels.DMPolicyPairing
	}

	streams := make(map[string]bool, len(cfg.AutoReplyStreams))
	for _, s := range cfg.AutoReplyStreams {
		streams[strings.ToLower(s)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.MentionPatterns))
	for _, p := range cfg.MentionPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("mention pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Policy{
		dmPolicy:         dmPolicy,
		autoReplyStreams: streams,
		mentionPatterns:  patterns,
		staticAllow:      cfg.AllowFrom,
		pairing:          pairing,
		channelName:      channelName,
	}, nil
}

// allowList builds the effective allow-list: static config unioned with the
// pairing store's approved senders.
func (p *Policy) allowList() AllowList {
	var paired []string
	if p.pairing != nil {
		paired = p.pairing.ListPaired(p.channelName)
	}
	return NewAllowList(p.staticAllow, paired)
}

// Evaluate decides how to handle one inbound message. botName is the bot's
// display name for mention-markup detection.
func (p *Policy) Evaluate(msg bus.InboundMessage, botName string) Verdict {
	allow := p.allowList()

	if msg.ChatType == "stream" {
		return p.evaluateStream(msg, botName, allow)
	}
	return p.evaluateDirect(msg, allow)
}

func (p *Policy) evaluateStream(msg bus.InboundMessage, botName string, allow AllowList) Verdict {
	mentioned, clean := stripMention(msg.Content, botName, p.mentionPatterns)
	authorized := allow.Empty() || allow.Contains(msg.SenderID, msg.SenderEmail, msg.SenderName)

	if !p.autoReplyStreams[strings.ToLower(msg.Stream)] {
		// Mention-gated stream: answer only when addressed.
		if !mentioned {
			return Verdict{Action: ActionDrop, Reason: "no mention"}
		}
		return Verdict{Action: ActionProcess, CleanBody: clean, Authorized: authorized}
	}

	// Auto-reply stream: no mention required, but a configured non-empty
	// allow-list restricts who is answered.
	if !allow.Empty() && !allow.Contains(msg.SenderID, msg.SenderEmail, msg.SenderName) {
		return Verdict{Action: ActionDrop, Reason: "sender not in allow-list"}
	}
	return Verdict{Action: ActionProcess, CleanBody: clean, Authorized: authorized}
}

func (p *Policy) evaluateDirect(msg bus.InboundMessage, allow AllowList) Verdict {
	switch p.dmPolicy {
	case channels.DMPolicyDisabled:
		return Verdict{Action: ActionDrop, Reason: "DMs disabled"}

	case channels.DMPolicyOpen:
		return Verdict{Action: ActionProcess, CleanBody: msg.Content, Authorized: true}

	default: // pairing
		if allow.Contains(msg.SenderID, msg.SenderEmail, msg.SenderName) {
			return Verdict{Action: ActionProcess, CleanBody: msg.Content, Authorized: true}
		}
		return Verdict{Action: ActionPairing, Reason: "sender not paired"}
	}
}

// mentionMarkup matches Zulip's @-mention syntax for a display name:
// @**Full Name** with an optional |user_id suffix.
func mentionMarkup(botName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)@\*\*` + regexp.QuoteMeta(botName) + `(\|\d+)?\*\*`)
}

// stripMention reports whether the bot was addressed and returns the content
// with all mention occurrences removed and whitespace collapsed.
func stripMention(content, botName string, patterns []*regexp.Regexp) (bool, string) {
	mentioned := false
	clean := content

	if botName != "" {
		re := mentionMarkup(botName)
		if re.MatchString(clean) {
			mentioned = true
			clean = re.ReplaceAllString(clean, " ")
		}
	}
	for _, re := range patterns {
		if re.MatchString(clean) {
			mentioned = true
			clean = re.ReplaceAllString(clean, " ")
		}
	}

	if mentioned {
		clean = collapseWhitespace(clean)
	}
	return mentioned, clean
}

// collapseWhitespace squeezes runs of spaces/tabs and trims each line.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimSpace(out)
}

// logVerdict emits the per-message policy decision at debug level.
func logVerdict(msg bus.InboundMessage, v Verdict) {
	slog.Debug("policy verdict",
		"account", msg.AccountID,
		"message_id", msg.MessageID,
		"chat_type", msg.ChatType,
		"sender_id", msg.SenderID,
		"action", v.Action,
		"reason", v.Reason,
		"preview", channels.Truncate(msg.Content, 64),
	)
}
