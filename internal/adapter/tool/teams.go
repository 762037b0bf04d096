package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
)

// TeamsTool answers questions about people and teams from the directory.
type TeamsTool struct {
	dir    *domain.Directory
	logger *slog.Logger
	ops    *OperationSet
}

// NewTeamsTool creates the "teams" lookup tool over dir.
func NewTeamsTool(dir *domain.Directory, logger *slog.Logger) *TeamsTool {
	t := &TeamsTool{dir: dir, logger: logger}
	t.ops = NewOperationSet(
		Op("teams_get_user", "Look a person up by id, name or chat user ID.", teamsQuerySchema, logger, t.getUser),
		Op("teams_get_team", "Look a team up by id, name or alias.", teamsQuerySchema, logger, t.getTeam),
		Op("teams_list_teams", "List every team.", `{"type":"object","properties":{}}`, logger, t.listTeams),
		Op("teams_get_user_teams", "List the teams of a person and their roles.", teamsUserSchema, logger, t.getUserTeams),
	)
	return t
}

func (t *TeamsTool) Name() string { return "teams" }

func (t *TeamsTool) Description() string {
	return "Team and people directory: members, role groups, tool accounts and chat IDs."
}

func (t *TeamsTool) Operations() []domain.ToolSchema { return t.ops.Schemas() }

func (t *TeamsTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	return t.ops.Run(ctx, operation, args)
}

const teamsQuerySchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string"}
	},
	"required": ["query"]
}`

const teamsUserSchema = `{
	"type": "object",
	"properties": {
		"user_id": {"type": "string", "description": "Person id from the directory"}
	},
	"required": ["user_id"]
}`

type teamsParams struct {
	Query  string `json:"query,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// findPerson tries the person ID, then the name, then a chat user ID.
func (t *TeamsTool) findPerson(query string) (domain.Person, bool) {
	if p, ok := t.dir.Person(query); ok {
		return p, true
	}
	for _, p := range t.dir.People() {
		if strings.EqualFold(p.Name, query) {
			return p, true
		}
	}
	for _, p := range t.dir.People() {
		for _, id := range p.Platforms {
			if id == query {
				return p, true
			}
		}
	}
	return domain.Person{}, false
}

func (t *TeamsTool) getUser(_ context.Context, _ trace.Span, p teamsParams) (any, error) {
	if err := RequireField("query", p.Query); err != nil {
		return nil, err
	}
	person, ok := t.findPerson(p.Query)
	if !ok {
		return "No user found matching: " + p.Query, nil
	}
	return t.formatPerson(person), nil
}

func (t *TeamsTool) getTeam(_ context.Context, _ trace.Span, p teamsParams) (any, error) {
	if err := RequireField("query", p.Query); err != nil {
		return nil, err
	}
	team, ok := t.dir.Team(p.Query)
	if !ok {
		return "No team found matching: " + p.Query, nil
	}
	return t.formatTeam(team), nil
}

func (t *TeamsTool) listTeams(context.Context, trace.Span, teamsParams) (any, error) {
	teams := t.dir.Teams()
	if len(teams) == 0 {
		return "No teams configured.", nil
	}
	lines := make([]string, 0, len(teams))
	for _, team := range teams {
		line := fmt.Sprintf("- %s (id: %s)", team.Name, team.ID)
		if len(team.Aliases) > 0 {
			line += " (aliases: " + strings.Join(team.Aliases, ", ") + ")"
		}
		lines = append(lines, fmt.Sprintf("%s: %d members", line, len(team.Members())))
	}
	return strings.Join(lines, "\n"), nil
}

func (t *TeamsTool) getUserTeams(_ context.Context, _ trace.Span, p teamsParams) (any, error) {
	if err := RequireField("user_id", p.UserID); err != nil {
		return nil, err
	}
	person, ok := t.dir.Person(p.UserID)
	if !ok {
		return "No user found with id: " + p.UserID, nil
	}
	teams := t.dir.TeamsOf(person.ID)
	if len(teams) == 0 {
		return person.DisplayName() + " is not a member of any team.", nil
	}
	lines := []string{fmt.Sprintf("Teams for %s (%s):", person.DisplayName(), person.ID)}
	for _, team := range teams {
		lines = append(lines, "", t.formatTeam(team))
		if roles := team.Roles(person.ID); len(roles) > 0 {
			lines = append(lines, "  User roles: "+strings.Join(roles, ", "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (t *TeamsTool) formatPerson(p domain.Person) string {
	lines := []string{fmt.Sprintf("%s (id: %s)", p.DisplayName(), p.ID)}
	for _, tool := range sortedNames(p.Tools) {
		if fields := p.Tools[tool]; len(fields) > 0 {
			lines = append(lines, fmt.Sprintf("  %s: %s", tool, pairs(fields)))
		}
	}
	if len(p.Platforms) > 0 {
		lines = append(lines, "  Platforms: "+pairs(p.Platforms))
	}
	var teams []string
	for _, team := range t.dir.TeamsOf(p.ID) {
		if roles := team.Roles(p.ID); len(roles) > 0 {
			teams = append(teams, fmt.Sprintf("%s (%s)", team.Name, strings.Join(roles, ", ")))
		} else {
			teams = append(teams, team.Name)
		}
	}
	if len(teams) > 0 {
		lines = append(lines, "  Teams: "+strings.Join(teams, ", "))
	}
	return strings.Join(lines, "\n")
}

func (t *TeamsTool) formatTeam(team domain.Team) string {
	lines := []string{fmt.Sprintf("%s (id: %s)", team.Name, team.ID)}
	if len(team.Aliases) > 0 {
		lines = append(lines, "  Aliases: "+strings.Join(team.Aliases, ", "))
	}
	for _, group := range sortedNames(team.Groups) {
		var names []string
		for _, id := range team.Groups[group] {
			if p, ok := t.dir.Person(id); ok {
				names = append(names, p.DisplayName())
			}
		}
		lines = append(lines, fmt.Sprintf("  Group '%s': %s", group, strings.Join(names, ", ")))
	}
	return strings.Join(lines, "\n")
}

func pairs(m map[string]string) string {
	out := make([]string, 0, len(m))
	for _, k := range sortedNames(m) {
		out = append(out, k+"="+m[k])
	}
	return strings.Join(out, ", ")
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
