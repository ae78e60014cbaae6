package main

import "fmt"

type SelectionKind string

const (
	KindGroup SelectionKind = "group"
	KindHost  SelectionKind = "host"
	KindTag   SelectionKind = "tag"
)

// orderedSet remembers the order identifiers were first selected in so host
// resolution and tag lists are stable across runs.
type orderedSet struct {
	index map[string]int
	items []string
}

func (s *orderedSet) toggle(id string) bool {
	if s.index == nil {
		s.index = map[string]int{}
	}
	if i, ok := s.index[id]; ok {
		s.items = append(s.items[:i], s.items[i+1:]...)
		delete(s.index, id)
		for j := i; j < len(s.items); j++ {
			s.index[s.items[j]] = j
		}
		return false
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, id)
	return true
}

func (s *orderedSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *orderedSet) list() []string {
	return append([]string{}, s.items...)
}

func (s *orderedSet) len() int {
	return len(s.items)
}

// Selection tracks which groups, hosts and tags the operator has chosen.
// Groups are resolved to hosts lazily, at submit time.
type Selection struct {
	groups orderedSet
	hosts  orderedSet
	tags   orderedSet
}

func NewSelection() *Selection {
	return &Selection{}
}

func (s *Selection) set(kind SelectionKind) (*orderedSet, error) {
	switch kind {
	case KindGroup:
		return &s.groups, nil
	case KindHost:
		return &s.hosts, nil
	case KindTag:
		return &s.tags, nil
	}
	return nil, fmt.Errorf("unknown selection kind %q", kind)
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *Selection) Toggle(kind SelectionKind, id string) (bool, error) {
	set, err := s.set(kind)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, fmt.Errorf("empty %s identifier", kind)
	}
	return set.toggle(id), nil
}

func (s *Selection) IsSelected(kind SelectionKind, id string) bool {
	set, err := s.set(kind)
	if err != nil {
		return false
	}
	return set.has(id)
}

func (s *Selection) Selected(kind SelectionKind) []string {
	set, err := s.set(kind)
	if err != nil {
		return nil
	}
	return set.list()
}

// HasTargetSelection is true when at least one group or host is chosen.
// Tags alone never count.
func (s *Selection) HasTargetSelection() bool {
	return s.groups.len() > 0 || s.hosts.len() > 0
}

func (s *Selection) TargetCount() int {
	return s.groups.len() + s.hosts.len()
}

func (s *Selection) SelectedTags() []string {
	return s.tags.list()
}

func (s *Selection) Clear() {
	*s = Selection{}
}

// ResolveHosts returns the explicitly selected hosts followed by the members
// of every selected group, deduplicated with first-seen order. Groups absent
// from the snapshot are skipped and returned as missing.
func (s *Selection) ResolveHosts(groups []Group) (hosts []string, missing []string) {
	byName := make(map[string]Group, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}

	seen := map[string]bool{}
	hosts = []string{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		hosts = append(hosts, name)
	}

	for _, name := range s.hosts.items {
		add(name)
	}
	for _, groupName := range s.groups.items {
		g, ok := byName[groupName]
		if !ok {
			missing = append(missing, groupName)
			continue
		}
		for _, h := range g.Hosts {
			add(h.Name)
		}
	}
	return hosts, missing
}

// CanSubmit gates the submit action: a playbook plus at least one target.
func CanSubmit(playbook string, sel *Selection) bool {
	return playbook != "" && sel != nil && sel.HasTargetSelection()
}
