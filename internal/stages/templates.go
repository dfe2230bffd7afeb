package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

var defaultLanguages = []string{"ja", "en"}

type drillRequest struct {
	Location struct {
		Address string  `json:"address"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
	} `json:"location"`
	Participants struct {
		Total     int      `json:"total"`
		Languages []string `json:"languages"`
	} `json:"participants"`
	Hazard struct {
		Types     []string `json:"types"`
		Indoor    bool     `json:"indoor"`
		Nighttime bool     `json:"nighttime"`
	} `json:"hazard"`
}

type scenarioRef struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Languages []string `json:"languages"`
}

type routePoint struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

type route struct {
	Name   string       `json:"name"`
	Points []routePoint `json:"points"`
}

type planResult struct {
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Scenarios []scenarioRef `json:"scenarios"`
}

type scenarioResult struct {
	Type       string `json:"type"`
	ScenarioID string `json:"scenario_id"`
	Assets     struct {
		ScriptMD string  `json:"script_md"`
		RolesCSV string  `json:"roles_csv"`
		Routes   []route `json:"routes"`
	} `json:"assets"`
}

type safetyIssue struct {
	Severity string `json:"severity"`
	Issue    string `json:"issue"`
	Fix      string `json:"fix"`
}

type safetyResult struct {
	Type    string        `json:"type"`
	Issues  []safetyIssue `json:"issues"`
	Patched bool          `json:"patched"`
}

type contentResult struct {
	Type          string   `json:"type"`
	PosterPrompts []string `json:"poster_prompts"`
	VideoPrompt   string   `json:"video_prompt"`
}

// decodeLenient unmarshals raw into v and leaves v at its zero value when raw
// is empty or malformed
func decodeLenient(raw json.RawMessage, v interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func request(in Input) drillRequest {
	var req drillRequest
	decodeLenient(in.Payload, &req)
	return req
}

func languages(req drillRequest) []string {
	if len(req.Participants.Languages) > 0 {
		return req.Participants.Languages
	}
	return defaultLanguages
}

func scenarioTitle(req drillRequest) string {
	if len(req.Hazard.Types) == 0 {
		return "earthquake drill"
	}
	return strings.Join(req.Hazard.Types, " → ") + " drill"
}

func runPlan(_ context.Context, in Input) (json.RawMessage, error) {
	req := request(in)
	return json.Marshal(planResult{
		Type:    "plan",
		Message: "Plan generated",
		Scenarios: []scenarioRef{
			{ID: "S1", Title: scenarioTitle(req), Languages: languages(req)},
		},
	})
}

func runScenario(_ context.Context, in Input) (json.RawMessage, error) {
	req := request(in)

	var plan planResult
	decodeLenient(in.Results["plan"], &plan)
	ref := scenarioRef{ID: "S1", Title: scenarioTitle(req)}
	if len(plan.Scenarios) > 0 {
		ref = plan.Scenarios[0]
	}

	var out scenarioResult
	out.Type = "scenario"
	out.ScenarioID = ref.ID
	out.Assets.ScriptMD = fmt.Sprintf("# %s\n1. Roll call\n2. Evacuate\n3. Assemble and report\n", ref.Title)
	out.Assets.RolesCSV = "role,name\nLead,\nSafety,\n"
	out.Assets.Routes = []route{{
		Name: "Main",
		Points: []routePoint{
			{Lat: req.Location.Lat, Lng: req.Location.Lng, Label: "Start"},
			{Lat: req.Location.Lat, Lng: req.Location.Lng, Label: "Assembly point"},
		},
	}}
	return json.Marshal(out)
}

func runSafety(_ context.Context, in Input) (json.RawMessage, error) {
	req := request(in)

	var scenario scenarioResult
	decodeLenient(in.Results["scenario"], &scenario)

	issues := []safetyIssue{}
	if len(scenario.Assets.Routes) == 0 {
		issues = append(issues, safetyIssue{
			Severity: "high",
			Issue:    "no evacuation route defined",
			Fix:      "add at least one route to an assembly point",
		})
	}
	for _, r := range scenario.Assets.Routes {
		if len(r.Points) < 2 {
			issues = append(issues, safetyIssue{
				Severity: "medium",
				Issue:    fmt.Sprintf("route %q has fewer than two points", r.Name),
				Fix:      "add an assembly point",
			})
		}
	}
	if req.Hazard.Nighttime {
		issues = append(issues, safetyIssue{
			Severity: "low",
			Issue:    "night drill",
			Fix:      "assign flashlights to route leads",
		})
	}

	return json.Marshal(safetyResult{Type: "safety", Issues: issues, Patched: len(issues) > 0})
}

func runContent(_ context.Context, in Input) (json.RawMessage, error) {
	req := request(in)

	var plan planResult
	decodeLenient(in.Results["plan"], &plan)
	title := scenarioTitle(req)
	if len(plan.Scenarios) > 0 && plan.Scenarios[0].Title != "" {
		title = plan.Scenarios[0].Title
	}

	langs := strings.Join(languages(req), "/")
	return json.Marshal(contentResult{
		Type:          "content",
		PosterPrompts: []string{fmt.Sprintf("Evacuation guidance poster for %s (%s)", title, langs)},
		VideoPrompt:   fmt.Sprintf("60 second walkthrough of the %s script", title),
	})
}
