package dav

import (
	"net/http"
	"strings"
)

// Condition is one entry of an If header list.
type Condition struct {
	Not   bool
	Token string
	ETag  string
}

// IfList is a parenthesised list, optionally tagged with a resource URL.
type IfList struct {
	Resource   string
	Conditions []Condition
}

// IfHeader is a parsed If header (RFC 4918 section 10.4).
type IfHeader struct {
	Lists []IfList
}

// ParseIf parses the If header. An absent header yields an empty IfHeader.
func ParseIf(h http.Header) (IfHeader, error) {
	v := strings.TrimSpace(h.Get("If"))
	if v == "" {
		return IfHeader{}, nil
	}
	var (
		ih       IfHeader
		resource string
	)
	for v != "" {
		switch v[0] {
		case '<':
			end := strings.IndexByte(v, '>')
			if end < 0 {
				return IfHeader{}, Errorf(KindMalformed, "unterminated resource tag in If header")
			}
			resource = v[1:end]
			v = v[end+1:]
		case '(':
			end := strings.IndexByte(v, ')')
			if end < 0 {
				return IfHeader{}, Errorf(KindMalformed, "unterminated list in If header")
			}
			conds, err := parseConditions(v[1:end])
			if err != nil {
				return IfHeader{}, err
			}
			ih.Lists = append(ih.Lists, IfList{Resource: resource, Conditions: conds})
			v = v[end+1:]
		default:
			return IfHeader{}, Errorf(KindMalformed, "unexpected %q in If header", v[0])
		}
		v = strings.TrimSpace(v)
	}
	return ih, nil
}

func parseConditions(s string) ([]Condition, error) {
	var conds []Condition
	s = strings.TrimSpace(s)
	for s != "" {
		var c Condition
		if len(s) >= 3 && strings.EqualFold(s[:3], "not") {
			c.Not = true
			s = strings.TrimSpace(s[3:])
		}
		if s == "" {
			return nil, Errorf(KindMalformed, "dangling Not in If header")
		}
		switch s[0] {
		case '<':
			end := strings.IndexByte(s, '>')
			if end < 0 {
				return nil, Errorf(KindMalformed, "unterminated state token in If header")
			}
			c.Token = s[1:end]
			s = s[end+1:]
		case '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, Errorf(KindMalformed, "unterminated entity tag in If header")
			}
			c.ETag = s[1:end]
			s = s[end+1:]
		default:
			return nil, Errorf(KindMalformed, "unexpected %q in If header", s[0])
		}
		conds = append(conds, c)
		s = strings.TrimSpace(s)
	}
	if len(conds) == 0 {
		return nil, Errorf(KindMalformed, "empty list in If header")
	}
	return conds, nil
}

// Tokens returns every lock token the header asserts, without duplicates.
func (ih IfHeader) Tokens() []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range ih.Lists {
		for _, c := range l.Conditions {
			if c.Not || c.Token == "" || seen[c.Token] {
				continue
			}
			seen[c.Token] = true
			out = append(out, c.Token)
		}
	}
	return out
}

// Empty reports whether the header was absent.
func (ih IfHeader) Empty() bool { return len(ih.Lists) == 0 }
