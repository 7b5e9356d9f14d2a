// Package permission defines the closed set of permission codes and the set
// types the evaluator works on.
package permission

import (
	"fmt"
	"slices"
)

// Code is a permission identifier as stored in tenancy documents.
type Code string

const (
	TenancyAdmin          Code = "iD-P-1"
	OrganisationAdmin     Code = "iD-P-10000"
	OrganisationRead      Code = "iD-P-10001"
	DirectoryUsersRead    Code = "iD-P-10010"
	DirectoryUsersWrite   Code = "iD-P-10011"
	DirectoryGroupsRead   Code = "iD-P-10014"
	DirectoryGroupsCreate Code = "iD-P-10015"
	DirectoryGroupsDelete Code = "iD-P-10017"
)

// Level says where a code may be granted.
type Level int

const (
	LevelTenancy Level = iota + 1
	LevelOrganisation
)

var known = map[Code]Level{
	TenancyAdmin:          LevelTenancy,
	OrganisationAdmin:     LevelOrganisation,
	OrganisationRead:      LevelOrganisation,
	DirectoryUsersRead:    LevelOrganisation,
	DirectoryUsersWrite:   LevelOrganisation,
	DirectoryGroupsRead:   LevelOrganisation,
	DirectoryGroupsCreate: LevelOrganisation,
	DirectoryGroupsDelete: LevelOrganisation,
}

// Parse returns the Code for s, or an error if s is not a known code.
func Parse(s string) (Code, error) {
	c := Code(s)
	if _, ok := known[c]; !ok {
		return "", fmt.Errorf("unknown permission code %q", s)
	}
	return c, nil
}

// LevelOf reports the grant level of c; ok is false for unknown codes.
func LevelOf(c Code) (Level, bool) {
	l, ok := known[c]
	return l, ok
}

// ParseSet parses raw codes into a Set, requiring each code to be grantable at
// the given level.
func ParseSet(raw []string, level Level) (Set, error) {
	out := make([]Code, 0, len(raw))
	for _, s := range raw {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		if l, _ := LevelOf(c); l != level {
			return nil, fmt.Errorf("permission %q cannot be granted at this level", s)
		}
		out = append(out, c)
	}
	return NewSet(out...), nil
}

// Set is a sorted, de-duplicated list of codes. The zero value is empty.
type Set []Code

// NewSet builds a normalised Set.
func NewSet(codes ...Code) Set {
	s := make(Set, 0, len(codes))
	for _, c := range codes {
		if !slices.Contains(s, c) {
			s = append(s, c)
		}
	}
	slices.Sort(s)
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Code) bool {
	return slices.Contains(s, c)
}

// With returns a copy of s including c.
func (s Set) With(c Code) Set {
	return NewSet(append(slices.Clone(s), c)...)
}

// Without returns a copy of s excluding c.
func (s Set) Without(c Code) Set {
	out := make(Set, 0, len(s))
	for _, x := range s {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	if s == nil {
		return Set{}
	}
	return slices.Clone(s)
}

// Strings returns the codes as plain strings.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

// AllowList is the set of codes any one of which grants an action.
type AllowList struct {
	codes Set
}

// AnyOf builds an AllowList.
func AnyOf(codes ...Code) AllowList {
	return AllowList{codes: NewSet(codes...)}
}

// Codes returns the allowed codes.
func (a AllowList) Codes() Set { return a.codes.Clone() }

// GrantedBy reports whether held intersects the allow list.
func (a AllowList) GrantedBy(held Set) bool {
	for _, c := range a.codes {
		if held.Has(c) {
			return true
		}
	}
	return false
}
