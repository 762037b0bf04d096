package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testDirectory() *Directory {
	return NewDirectory(
		map[string]Person{
			"alice": {Name: "Alice Smith", Platforms: map[string]string{"slack": "U_ALICE", "discord": "111"}},
			"bob":   {Name: "Bob", Platforms: map[string]string{"discord": "222"}},
			"carol": {Platforms: map[string]string{"slack": "U_CAROL"}},
		},
		map[string]Team{
			"backend": {
				Name:    "Backend",
				Aliases: []string{"be"},
				Groups: map[string][]string{
					"default": {"alice", "bob", "carol"},
					"leads":   {"alice"},
					"on_call": {"carol", "ghost"},
				},
			},
			"infra": {Groups: map[string][]string{"leads": {"bob"}}},
		},
	)
}

func TestDirectoryResolveMembers(t *testing.T) {
	d := testDirectory()

	tests := []struct {
		name    string
		entries []string
		want    []string
	}{
		{"team group", []string{"backend.leads"}, []string{"U_ALICE"}},
		{"unknown people in group skipped", []string{"backend.on_call"}, []string{"U_CAROL"}},
		{"person", []string{"carol"}, []string{"U_CAROL"}},
		{"person falls back to another platform", []string{"bob"}, []string{"222"}},
		{"team id is its default group", []string{"backend"}, []string{"U_ALICE", "222", "U_CAROL"}},
		{"raw platform id kept", []string{"U_RAW"}, []string{"U_RAW"}},
		{"duplicates dropped", []string{"alice", "backend.leads", "U_ALICE"}, []string{"U_ALICE"}},
		{"empty team group resolves to nobody", []string{"infra.default"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ResolveMembers("slack", tt.entries))
		})
	}
}

func TestDirectoryResolveMembersWithoutDirectory(t *testing.T) {
	var d *Directory
	assert.Equal(t, []string{"U1", "backend.leads"}, d.ResolveMembers("slack", []string{"U1", "backend.leads"}))
	assert.True(t, d.Empty())
}

func TestDirectoryLookups(t *testing.T) {
	d := testDirectory()

	p, ok := d.ByPlatformID("discord", "111")
	assert.True(t, ok)
	assert.Equal(t, "alice", p.ID)
	_, ok = d.ByPlatformID("slack", "111")
	assert.False(t, ok)

	team, ok := d.Team("BE")
	assert.True(t, ok)
	assert.Equal(t, "backend", team.ID)
	team, ok = d.Team("infra")
	assert.True(t, ok)
	assert.Equal(t, "infra", team.Name, "name defaults to id")
	assert.Empty(t, team.Members())

	teams := d.TeamsOf("alice")
	if assert.Len(t, teams, 1) {
		assert.Equal(t, []string{"leads"}, teams[0].Roles("alice"))
	}
	assert.Empty(t, d.TeamsOf("nobody"))

	assert.True(t, d.HasGroup("backend.on_call"))
	assert.True(t, d.HasGroup("infra.default"))
	assert.False(t, d.HasGroup("backend.admins"))
	assert.False(t, d.HasGroup("backend"))
	assert.Equal(t, "carol", d.People()[2].DisplayName())
}
