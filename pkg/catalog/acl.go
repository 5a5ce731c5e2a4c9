package catalog

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

// ACLAction allow 또는 deny
type ACLAction int

const (
	ACLAllow ACLAction = iota
	ACLDeny
)

func (a ACLAction) String() string {
	if a == ACLDeny {
		return "deny"
	}
	return "allow"
}

// ACLRule covers the inclusive address range First..Last.
type ACLRule struct {
	Action ACLAction
	First  netip.Addr
	Last   netip.Addr
}

func (r ACLRule) String() string {
	if r.First == r.Last {
		return fmt.Sprintf("%s %s", r.Action, r.First)
	}
	return fmt.Sprintf("%s %s %s", r.Action, r.First, r.Last)
}

// Contains 주소가 범위 안에 있는지 확인
func (r ACLRule) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	return r.First.Compare(addr) <= 0 && addr.Compare(r.Last) <= 0
}

// ParseACLRule parses "allow|deny <first> [<last>]". Hostnames are resolved
// to their first IPv4 address.
func ParseACLRule(fields []string) (ACLRule, error) {
	if len(fields) < 2 || len(fields) > 3 {
		return ACLRule{}, fmt.Errorf("ACL expects 'allow|deny <ip> [<ip>]'")
	}
	var rule ACLRule
	switch strings.ToLower(fields[0]) {
	case "allow":
		rule.Action = ACLAllow
	case "deny":
		rule.Action = ACLDeny
	default:
		return ACLRule{}, fmt.Errorf("ACL action must be allow or deny, got %q", fields[0])
	}

	first, err := resolveAddr(fields[1])
	if err != nil {
		return ACLRule{}, err
	}
	rule.First, rule.Last = first, first
	if len(fields) == 3 {
		last, err := resolveAddr(fields[2])
		if err != nil {
			return ACLRule{}, err
		}
		if last.Compare(first) < 0 {
			return ACLRule{}, fmt.Errorf("ACL range %s-%s is reversed", first, last)
		}
		rule.Last = last
	}
	return rule, nil
}

func resolveAddr(s string) (netip.Addr, error) {
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap(), nil
	}
	ips, err := lookupHost(s)
	if err != nil || len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("cannot resolve %q", s)
	}
	for _, ip := range ips {
		if a, err := netip.ParseAddr(ip); err == nil && a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no IPv4 address for %q", s)
}

// EvaluateACL applies rules in order; the first match decides. An address
// matching no rule is denied as soon as the list holds an allow rule, so a
// pure deny list acts as a blacklist and an empty list allows everything.
func EvaluateACL(rules []ACLRule, addr netip.Addr) bool {
	for _, r := range rules {
		if r.Contains(addr) {
			return r.Action == ACLAllow
		}
	}
	for _, r := range rules {
		if r.Action == ACLAllow {
			return false
		}
	}
	return true
}

// ParseACLFile reads a dynamic ACL file: one "ACL allow|deny ip [ip]" per line,
// '#' starts a comment, anything else is ignored.
func ParseACLFile(r io.Reader) ([]ACLRule, error) {
	var rules []ACLRule
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if !strings.EqualFold(fields[0], "ACL") {
			continue
		}
		rule, err := ParseACLRule(fields[1:])
		if err != nil {
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
		rules = append(rules, rule)
	}
	return rules, sc.Err()
}

// CheckACL decides whether addr may access s. The static list and, when
// configured, the freshly read dynamic ACL file must both allow.
func CheckACL(s *Stream, addr netip.Addr) bool {
	if !EvaluateACL(s.ACL, addr) {
		return false
	}
	if s.DynamicACL == "" {
		return true
	}
	f, err := os.Open(s.DynamicACL)
	if err != nil {
		// 파일이 없으면 동적 규칙 없음으로 취급
		return true
	}
	defer f.Close()
	rules, err := ParseACLFile(f)
	if err != nil {
		return false
	}
	return EvaluateACL(rules, addr)
}
