package backend

// Report is the resume audit returned by the scoring backend.
type Report struct {
	Summary        Summary               `json:"summary"`
	ContactDetails ContactDetails        `json:"contact_details"`
	ExternalLinks  ExternalLinks         `json:"external_links_status"`
	GitHubDeepDive GitHubDeepDive        `json:"github_deep_dive"`
	ResumeClaims   ResumeClaims          `json:"resume_claims"`
	Verification   VerificationBreakdown `json:"verification_breakdown"`
	MarketIntel    string                `json:"dynamic_market_intel"`
}

type Summary struct {
	TrustScore       string `json:"trust_score"`
	IntegrityLevel   string `json:"integrity_level"`
	ValidationStatus string `json:"validation_status"`
}

type ContactDetails struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type Link struct {
	URL    *string `json:"url"`
	Status string  `json:"status,omitempty"`
	Valid  bool    `json:"valid"`
}

type ExternalLinks struct {
	LinkedIn Link `json:"linkedin"`
	GitHub   Link `json:"github"`
}

type GitHubDeepDive struct {
	TotalPublicRepos int      `json:"total_public_repos"`
	TopLanguages     []string `json:"top_languages_used"`
	Repos            []string `json:"list_of_repos"`
}

type ResumeClaims struct {
	TotalSkills int      `json:"total_skills_detected"`
	Skills      []string `json:"skills_list"`
	Projects    []string `json:"projects_extracted_text"`
}

type VerificationBreakdown struct {
	Verified   []string `json:"verified_skills"`
	Unverified []string `json:"unverified_skills"`
}

// Profile is the candidate as the recruiter configures the interview.
// Report is nil when the profile is a placeholder.
type Profile struct {
	CandidateID    string   `json:"candidate_id"`
	Skills         []string `json:"skills"`
	FocusTopics    []string `json:"focus_topics"`
	IntegrityCheck bool     `json:"integrity_check"`
	Report         *Report  `json:"report,omitempty"`
}

// ToggleFocus adds skill to the focus topics, or removes it if present.
func (p *Profile) ToggleFocus(skill string) {
	for i, s := range p.FocusTopics {
		if s == skill {
			p.FocusTopics = append(p.FocusTopics[:i], p.FocusTopics[i+1:]...)
			return
		}
	}
	p.FocusTopics = append(p.FocusTopics, skill)
}

// FocusConfig tells the interviewer which topics to dig into.
type FocusConfig struct {
	CandidateID    string   `json:"candidate_id"`
	FocusTopics    []string `json:"focus_topics"`
	IntegrityCheck bool     `json:"integrity_check"`
}

// FocusConfig returns the focus configuration for the profile.
func (p *Profile) FocusConfig() FocusConfig {
	topics := p.FocusTopics
	if topics == nil {
		topics = []string{}
	}
	return FocusConfig{
		CandidateID:    p.CandidateID,
		FocusTopics:    topics,
		IntegrityCheck: p.IntegrityCheck,
	}
}
