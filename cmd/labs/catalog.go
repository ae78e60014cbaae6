package main

import (
	"sort"
	"time"
)

type Host struct {
	Name        string `json:"name"`
	IP          string `json:"ip,omitempty"`
	Group       string `json:"group,omitempty"`
	AnsibleHost string `json:"ansible_host,omitempty"`
}

// Address is the host's reachable address, if the inventory declares one.
func (h Host) Address() string {
	if h.IP != "" {
		return h.IP
	}
	return h.AnsibleHost
}

type Group struct {
	Name  string            `json:"name"`
	Hosts []Host            `json:"hosts"`
	Vars  map[string]string `json:"vars,omitempty"`
}

type Playbook struct {
	Name        string   `json:"name"`
	Path        string   `json:"path,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Hosts       string   `json:"hosts,omitempty"`
}

// Catalog is a read-only snapshot of the backend inventory, fetched once at
// startup. Group membership used for a submission is always re-fetched.
type Catalog struct {
	Groups    []Group    `json:"groups"`
	Hosts     []Host     `json:"hosts"`
	Playbooks []Playbook `json:"playbooks"`
	Tags      []string   `json:"tags"`
	FetchedAt time.Time  `json:"fetched_at"`
}

func (c Catalog) Group(name string) (Group, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func (c Catalog) Playbook(name string) (Playbook, bool) {
	for _, pb := range c.Playbooks {
		if pb.Name == name {
			return pb, true
		}
	}
	return Playbook{}, false
}

func (c Catalog) SortedTags() []string {
	tags := append([]string(nil), c.Tags...)
	sort.Strings(tags)
	return tags
}

func (p Playbook) Label() string {
	if p.Description == "" {
		return p.Name
	}
	return p.Name + " - " + p.Description
}
