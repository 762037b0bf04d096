package domain

import (
	"sort"
	"strings"
)

// DefaultTeamGroup is the team group that lists every member.
const DefaultTeamGroup = "default"

// Person maps one human across chat platforms and tool integrations.
type Person struct {
	ID        string
	Name      string
	Platforms map[string]string            // platform name → user ID
	Tools     map[string]map[string]string // tool name → identity fields, e.g. jira → {account_id: ...}
}

// DisplayName returns Name, or ID when the person has no name.
func (p Person) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// PlatformID returns the person's user ID on platform, falling back to the
// alphabetically first platform when platform is unknown or empty.
func (p Person) PlatformID(platform string) string {
	if id, ok := p.Platforms[platform]; ok && platform != "" {
		return id
	}
	keys := sortedKeys(p.Platforms)
	if len(keys) == 0 {
		return ""
	}
	return p.Platforms[keys[0]]
}

// Team is a named set of people with role groups such as "leads".
type Team struct {
	ID      string
	Name    string
	Aliases []string
	Groups  map[string][]string // group name → person IDs
}

// Members returns the person IDs of the default group.
func (t Team) Members() []string { return t.Groups[DefaultTeamGroup] }

// Directory resolves people and teams. A nil Directory is empty.
type Directory struct {
	people map[string]Person
	teams  map[string]Team
}

// NewDirectory builds a directory. Map keys become the IDs, and every team
// gets a default group, empty if none was given.
func NewDirectory(people map[string]Person, teams map[string]Team) *Directory {
	d := &Directory{
		people: make(map[string]Person, len(people)),
		teams:  make(map[string]Team, len(teams)),
	}
	for id, p := range people {
		p.ID = id
		d.people[id] = p
	}
	for id, t := range teams {
		t.ID = id
		if t.Name == "" {
			t.Name = id
		}
		groups := make(map[string][]string, len(t.Groups)+1)
		for g, members := range t.Groups {
			groups[g] = members
		}
		if _, ok := groups[DefaultTeamGroup]; !ok {
			groups[DefaultTeamGroup] = nil
		}
		t.Groups = groups
		d.teams[id] = t
	}
	return d
}

// Empty reports whether the directory knows nobody.
func (d *Directory) Empty() bool {
	return d == nil || (len(d.people) == 0 && len(d.teams) == 0)
}

// Person looks a person up by ID.
func (d *Directory) Person(id string) (Person, bool) {
	if d == nil {
		return Person{}, false
	}
	p, ok := d.people[id]
	return p, ok
}

// People returns every person ordered by ID.
func (d *Directory) People() []Person {
	if d == nil {
		return nil
	}
	out := make([]Person, 0, len(d.people))
	for _, id := range sortedKeys(d.people) {
		out = append(out, d.people[id])
	}
	return out
}

// ByPlatformID finds the person whose user ID on platform is userID.
func (d *Directory) ByPlatformID(platform, userID string) (Person, bool) {
	if d == nil || userID == "" {
		return Person{}, false
	}
	for _, id := range sortedKeys(d.people) {
		p := d.people[id]
		if p.Platforms[platform] == userID {
			return p, true
		}
	}
	return Person{}, false
}

// Team finds a team by ID, name or alias, case-insensitively.
func (d *Directory) Team(query string) (Team, bool) {
	if d == nil {
		return Team{}, false
	}
	if t, ok := d.teams[query]; ok {
		return t, true
	}
	for _, id := range sortedKeys(d.teams) {
		t := d.teams[id]
		if strings.EqualFold(t.ID, query) || strings.EqualFold(t.Name, query) {
			return t, true
		}
		for _, a := range t.Aliases {
			if strings.EqualFold(a, query) {
				return t, true
			}
		}
	}
	return Team{}, false
}

// Teams returns every team ordered by ID.
func (d *Directory) Teams() []Team {
	if d == nil {
		return nil
	}
	out := make([]Team, 0, len(d.teams))
	for _, id := range sortedKeys(d.teams) {
		out = append(out, d.teams[id])
	}
	return out
}

// TeamsOf returns the teams whose default group contains personID.
func (d *Directory) TeamsOf(personID string) []Team {
	var out []Team
	for _, t := range d.Teams() {
		for _, m := range t.Members() {
			if m == personID {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Roles returns the non-default groups of t that contain personID.
func (t Team) Roles(personID string) []string {
	var roles []string
	for _, g := range sortedKeys(t.Groups) {
		if g == DefaultTeamGroup {
			continue
		}
		for _, m := range t.Groups[g] {
			if m == personID {
				roles = append(roles, g)
				break
			}
		}
	}
	return roles
}

// GroupMembers resolves a "<team>.<group>" reference, or a bare team ID
// meaning its default group, to people. Unknown IDs are skipped.
func (d *Directory) GroupMembers(ref string) []Person {
	if d == nil {
		return nil
	}
	teamID, group := ref, DefaultTeamGroup
	if i := strings.LastIndex(ref, "."); i >= 0 {
		teamID, group = ref[:i], ref[i+1:]
	}
	t, ok := d.teams[teamID]
	if !ok {
		return nil
	}
	var out []Person
	for _, id := range t.Groups[group] {
		if p, ok := d.people[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ResolveMembers turns approval group entries into user IDs on platform.
// An entry is a team group reference ("backend.leads"), a person ID, a team
// ID (its default group) or a raw platform user ID, tried in that order.
// Duplicates are dropped and order is kept.
func (d *Directory) ResolveMembers(platform string, entries []string) []string {
	var out []string
	seen := make(map[string]bool, len(entries))
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, entry := range entries {
		if d.Empty() {
			add(entry)
			continue
		}
		if d.HasGroup(entry) {
			for _, p := range d.GroupMembers(entry) {
				add(p.PlatformID(platform))
			}
			continue
		}
		if p, ok := d.people[entry]; ok {
			if id := p.PlatformID(platform); id != "" {
				add(id)
				continue
			}
		}
		if _, ok := d.teams[entry]; ok {
			for _, p := range d.GroupMembers(entry) {
				add(p.PlatformID(platform))
			}
			continue
		}
		add(entry)
	}
	return out
}

// HasGroup reports whether ref names an existing "<team>.<group>".
func (d *Directory) HasGroup(ref string) bool {
	if d == nil {
		return false
	}
	i := strings.LastIndex(ref, ".")
	if i < 0 {
		return false
	}
	t, ok := d.teams[ref[:i]]
	if !ok {
		return false
	}
	_, ok = t.Groups[ref[i+1:]]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
