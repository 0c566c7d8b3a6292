// ABOUTME: Pure weighted scoring of candidate agents against detected skill tags
// ABOUTME: Deterministic: ties break on agent ID, low scores are pruned when a good option exists

package scorer

import (
	"fmt"
	"math"
	"sort"

	"github.com/relaydesk/switchboard/internal/analyzer"
)

// Component weights of the total score
const (
	weightTagMatch        = 0.40
	weightPerformance     = 0.25
	weightAvailability    = 0.20
	weightExperience      = 0.10
	weightCustomerHistory = 0.05
)

const (
	overflowTagScore   = 0.2 // generalists taking work outside their skills
	lowScoreCutoff     = 0.2
	goodTopScore       = 0.3
	specializationBar  = 4 // proficiency level that counts as a specialization
	responsePenaltyCap = 600.0
)

// DetectedTag is an analyzer tag enriched with the tenant's priority weight
type DetectedTag struct {
	Name           string
	Confidence     float64
	PriorityWeight float64
	Keywords       []string
}

// TagSkill is one agent skill considered during matching
type TagSkill struct {
	Name             string
	ProficiencyLevel int
	SuccessRate      float64
	AvgSatisfaction  float64
	Available        bool
}

// Candidate is everything the ranker needs to know about one agent
type Candidate struct {
	AgentID            string
	DisplayName        string
	CurrentLoad        int
	MaxCapacity        int
	TotalConversations int
	AvgSatisfaction    float64
	AvgResponseTime    float64
	AcceptsOverflow    bool
	Skills             []TagSkill
}

func (c Candidate) specializations() []string {
	var names []string
	for _, skill := range c.Skills {
		if skill.ProficiencyLevel >= specializationBar {
			names = append(names, skill.Name)
		}
	}
	return names
}

// Breakdown holds the per-component scores before weighting
type Breakdown struct {
	TagMatch        float64 `json:"tag_match_score"`
	Performance     float64 `json:"performance_score"`
	Availability    float64 `json:"availability_score"`
	Experience      float64 `json:"experience_score"`
	CustomerHistory float64 `json:"customer_history_score"`
}

// RankedAgent is one scored candidate in the final ordering
type RankedAgent struct {
	AgentID      string    `json:"agent_id"`
	DisplayName  string    `json:"agent_name"`
	TotalScore   float64   `json:"total_score"`
	Breakdown    Breakdown `json:"score_breakdown"`
	Reasoning    []string  `json:"reasoning"`
	CurrentLoad  int       `json:"current_load"`
	MatchingTags []string  `json:"matching_tags"`
}

// Rank scores every candidate against the detected tags and context and
// returns them best first. When the top score reaches 0.3, candidates
// under 0.2 are pruned; otherwise everything is kept so the queue still
// has options. Equal scores order by agent ID.
func Rank(candidates []Candidate, tags []DetectedTag, ctx analyzer.ConversationContext) []RankedAgent {
	ranked := make([]RankedAgent, 0, len(candidates))
	for _, candidate := range candidates {
		ranked = append(ranked, scoreCandidate(candidate, tags, ctx))
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalScore != ranked[j].TotalScore {
			return ranked[i].TotalScore > ranked[j].TotalScore
		}
		return ranked[i].AgentID < ranked[j].AgentID
	})

	if len(ranked) > 0 && ranked[0].TotalScore >= goodTopScore {
		kept := ranked[:0]
		for _, agent := range ranked {
			if agent.TotalScore >= lowScoreCutoff {
				kept = append(kept, agent)
			}
		}
		ranked = kept
	}
	return ranked
}

func scoreCandidate(agent Candidate, tags []DetectedTag, ctx analyzer.ConversationContext) RankedAgent {
	var breakdown Breakdown
	var reasoning []string
	var matching []string

	skillsByName := make(map[string]TagSkill, len(agent.Skills))
	for _, skill := range agent.Skills {
		skillsByName[skill.Name] = skill
	}

	// Tag matching: best available skill per detected tag, averaged
	// over all detected tags so partial coverage scores lower
	var tagScoreSum float64
	tagMatches := 0
	for _, tag := range tags {
		skill, ok := skillsByName[tag.Name]
		if !ok || !skill.Available {
			continue
		}

		proficiency := float64(skill.ProficiencyLevel) / 5.0
		performance := math.Min(skill.SuccessRate, 1.0)
		satisfaction := 0.5
		if skill.AvgSatisfaction > 0 {
			satisfaction = skill.AvgSatisfaction / 5.0
		}

		match := (proficiency*0.4 + performance*0.3 + satisfaction*0.3) *
			tag.Confidence * tag.PriorityWeight
		if match > 0 {
			tagScoreSum += match
			tagMatches++
			matching = append(matching, tag.Name)
			reasoning = append(reasoning, fmt.Sprintf("Has %s expertise (Level %d/5)",
				skill.Name, skill.ProficiencyLevel))
		}
	}

	if tagMatches > 0 && len(tags) > 0 {
		breakdown.TagMatch = tagScoreSum / float64(len(tags))
	} else if agent.AcceptsOverflow {
		breakdown.TagMatch = overflowTagScore
		reasoning = append(reasoning, "No specialized skills but accepts general inquiries")
	}

	// Performance: satisfaction, tenure, and response time
	if agent.TotalConversations > 0 {
		satisfaction := 0.5
		if agent.AvgSatisfaction > 0 {
			satisfaction = agent.AvgSatisfaction / 5.0
		}
		experience := math.Min(float64(agent.TotalConversations)/100.0, 1.0)
		response := math.Max(0.1, 1.0-agent.AvgResponseTime/responsePenaltyCap)
		breakdown.Performance = satisfaction*0.5 + experience*0.3 + response*0.2

		if agent.AvgSatisfaction >= 4.5 {
			reasoning = append(reasoning, fmt.Sprintf("Excellent customer satisfaction (%.1f/5.0)", agent.AvgSatisfaction))
		} else if agent.AvgSatisfaction >= 4.0 {
			reasoning = append(reasoning, fmt.Sprintf("Good customer satisfaction (%.1f/5.0)", agent.AvgSatisfaction))
		}
	} else {
		breakdown.Performance = 0.5
		reasoning = append(reasoning, "New agent - no performance history")
	}

	// Availability: free capacity fraction
	if agent.MaxCapacity > 0 {
		breakdown.Availability = 1.0 - float64(agent.CurrentLoad)/float64(agent.MaxCapacity)
	}
	switch {
	case agent.CurrentLoad == 0:
		reasoning = append(reasoning, "Fully available")
	case breakdown.Availability > 0.5:
		reasoning = append(reasoning, "Good availability")
	default:
		reasoning = append(reasoning, "Limited availability")
	}

	// Experience: breadth of high-proficiency skills
	specializations := agent.specializations()
	if len(specializations) > 0 {
		breakdown.Experience = math.Min(float64(len(specializations))/3.0, 1.0)
		reasoning = append(reasoning, "Specializes in: "+joinNames(specializations))
	} else {
		breakdown.Experience = 0.3
	}

	// Customer history: prior contact with similar issues
	if !ctx.History.IsNew {
		overlap := 0
		for _, prevTag := range ctx.History.PreviousTags {
			if _, ok := skillsByName[prevTag]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			breakdown.CustomerHistory = 0.8
			reasoning = append(reasoning, "Has handled similar issues for this customer")
		} else {
			breakdown.CustomerHistory = 0.4
		}
	} else {
		breakdown.CustomerHistory = 0.5
	}

	total := breakdown.TagMatch*weightTagMatch +
		breakdown.Performance*weightPerformance +
		breakdown.Availability*weightAvailability +
		breakdown.Experience*weightExperience +
		breakdown.CustomerHistory*weightCustomerHistory

	if ctx.Urgency.IsUrgent && breakdown.Performance > 0.7 {
		total += 0.1
		reasoning = append(reasoning, "Prioritized for urgent issue")
	}
	if ctx.Complexity >= 4 && len(specializations) >= 2 {
		total += 0.05
		reasoning = append(reasoning, "Selected for complex issue handling")
	}

	return RankedAgent{
		AgentID:      agent.AgentID,
		DisplayName:  agent.DisplayName,
		TotalScore:   math.Round(total*1000) / 1000,
		Breakdown:    breakdown,
		Reasoning:    reasoning,
		CurrentLoad:  agent.CurrentLoad,
		MatchingTags: matching,
	}
}

func joinNames(names []string) string {
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
