// Package candidate loads the applicant data the field mapper draws values
// from: a YAML profile (contact info, work history, skills, application
// answers) and, optionally, the text of a PDF résumé.
package candidate

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Semantic keys: canonical field identities independent of page wording.
const (
	FirstName          = "first_name"
	LastName           = "last_name"
	FullName           = "full_name"
	PreferredName      = "preferred_name"
	LegalName          = "legal_name"
	Pronouns           = "pronouns"
	Email              = "email"
	Phone              = "phone"
	PhoneType          = "phone_type"
	Address            = "address"
	City               = "city"
	State              = "state"
	ZipCode            = "zip_code"
	Country            = "country"
	CurrentCompany     = "current_company"
	CurrentTitle       = "current_title"
	YearsOfExperience  = "years_of_experience"
	SalaryExpectation  = "salary_expectation"
	School             = "school"
	Degree             = "degree"
	EducationLevel     = "education_level"
	Major              = "major"
	GraduationYear     = "graduation_year"
	GPA                = "gpa"
	Resume             = "resume"
	CoverLetter        = "cover_letter"
	Portfolio          = "portfolio"
	LinkedInURL        = "linkedin_url"
	GitHubURL          = "github_url"
	Website            = "website"
	Referral           = "referral"
	HowDidYouHear      = "how_did_you_hear"
	WhyInterested      = "why_interested"
	Availability       = "availability"
	StartDate          = "start_date"
	WorkAuthorization  = "work_authorization"
	RequireSponsorship = "require_sponsorship"
	AdditionalInfo     = "additional_info"
	Skills             = "skills"
)

// Profile is the YAML candidate file.
type Profile struct {
	FirstName     string `yaml:"first_name"`
	LastName      string `yaml:"last_name"`
	FullName      string `yaml:"full_name"`
	PreferredName string `yaml:"preferred_name"`
	Pronouns      string `yaml:"pronouns"`
	Email         string `yaml:"email"`
	Phone         string `yaml:"phone"`
	PhoneType     string `yaml:"phone_type"`

	Location struct {
		Address string `yaml:"address"`
		City    string `yaml:"city"`
		State   string `yaml:"state"`
		ZipCode string `yaml:"zip_code"`
		Country string `yaml:"country"`
	} `yaml:"location"`

	Links struct {
		LinkedIn  string `yaml:"linkedin"`
		GitHub    string `yaml:"github"`
		Portfolio string `yaml:"portfolio"`
		Website   string `yaml:"website"`
	} `yaml:"links"`

	Work struct {
		CurrentCompany    string `yaml:"current_company"`
		CurrentTitle      string `yaml:"current_title"`
		YearsOfExperience int    `yaml:"years_of_experience"`
	} `yaml:"work"`

	Education struct {
		School         string `yaml:"school"`
		Degree         string `yaml:"degree"`
		Level          string `yaml:"level"`
		Major          string `yaml:"major"`
		GraduationYear int    `yaml:"graduation_year"`
		GPA            string `yaml:"gpa"`
	} `yaml:"education"`

	Skills []string `yaml:"skills"`

	Application struct {
		WorkAuthorization  string `yaml:"work_authorization"`
		RequireSponsorship string `yaml:"require_sponsorship"`
		SalaryExpectation  string `yaml:"salary_expectation"`
		Availability       string `yaml:"availability"`
		StartDate          string `yaml:"start_date"`
		HowDidYouHear      string `yaml:"how_did_you_hear"`
		Referral           string `yaml:"referral"`
		WhyInterested      string `yaml:"why_interested"`
		CoverLetter        string `yaml:"cover_letter"`
		AdditionalInfo     string `yaml:"additional_info"`
	} `yaml:"application"`

	ResumePath string `yaml:"resume_path"`

	// Extra holds site-specific answers keyed by semantic key.
	Extra map[string]string `yaml:"extra"`
}

// Load reads a YAML profile.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("candidate: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("candidate: parse: %w", err)
	}
	if p.Email == "" && p.FirstName == "" && p.FullName == "" {
		return nil, fmt.Errorf("candidate: profile has neither name nor email")
	}
	return &p, nil
}

// MaxSkills caps the skills list handed to the model.
const MaxSkills = 20

// Surface is the read-only key/value view of a profile that the mapper
// consumes. Keys are the semantic key constants above.
type Surface struct {
	values map[string]string
}

// Surface flattens the profile. Full name is derived from first and last
// name when absent, and legal name defaults to the full name.
func (p *Profile) Surface() *Surface {
	full := p.FullName
	if full == "" {
		full = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	first, last := p.FirstName, p.LastName
	if first == "" && last == "" && full != "" {
		parts := strings.Fields(full)
		first = parts[0]
		if len(parts) > 1 {
			last = strings.Join(parts[1:], " ")
		}
	}
	skills := p.Skills
	if len(skills) > MaxSkills {
		skills = skills[:MaxSkills]
	}

	v := map[string]string{
		FirstName:          first,
		LastName:           last,
		FullName:           full,
		LegalName:          full,
		PreferredName:      firstNonEmpty(p.PreferredName, first),
		Pronouns:           p.Pronouns,
		Email:              p.Email,
		Phone:              p.Phone,
		PhoneType:          p.PhoneType,
		Address:            p.Location.Address,
		City:               p.Location.City,
		State:              p.Location.State,
		ZipCode:            p.Location.ZipCode,
		Country:            p.Location.Country,
		LinkedInURL:        p.Links.LinkedIn,
		GitHubURL:          githubURL(p.Links.GitHub),
		Portfolio:          firstNonEmpty(p.Links.Portfolio, p.Links.Website),
		Website:            firstNonEmpty(p.Links.Website, p.Links.Portfolio),
		CurrentCompany:     p.Work.CurrentCompany,
		CurrentTitle:       p.Work.CurrentTitle,
		School:             p.Education.School,
		Degree:             p.Education.Degree,
		EducationLevel:     firstNonEmpty(p.Education.Level, p.Education.Degree),
		Major:              p.Education.Major,
		GPA:                p.Education.GPA,
		Skills:             strings.Join(skills, ", "),
		WorkAuthorization:  p.Application.WorkAuthorization,
		RequireSponsorship: p.Application.RequireSponsorship,
		SalaryExpectation:  p.Application.SalaryExpectation,
		Availability:       p.Application.Availability,
		StartDate:          firstNonEmpty(p.Application.StartDate, p.Application.Availability),
		HowDidYouHear:      p.Application.HowDidYouHear,
		Referral:           p.Application.Referral,
		WhyInterested:      p.Application.WhyInterested,
		CoverLetter:        p.Application.CoverLetter,
		AdditionalInfo:     p.Application.AdditionalInfo,
		Resume:             p.ResumePath,
	}
	if p.Work.YearsOfExperience > 0 {
		v[YearsOfExperience] = strconv.Itoa(p.Work.YearsOfExperience)
	}
	if p.Education.GraduationYear > 0 {
		v[GraduationYear] = strconv.Itoa(p.Education.GraduationYear)
	}
	for k, val := range p.Extra {
		v[k] = val
	}
	for k, val := range v {
		if strings.TrimSpace(val) == "" {
			delete(v, k)
		}
	}
	return &Surface{values: v}
}

// NewSurface builds a surface from explicit values (tests, replays).
func NewSurface(values map[string]string) *Surface {
	v := make(map[string]string, len(values))
	for k, val := range values {
		if val != "" {
			v[k] = val
		}
	}
	return &Surface{values: v}
}

// Get returns the value for a semantic key.
func (s *Surface) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the populated keys, sorted.
func (s *Surface) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of populated keys.
func (s *Surface) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

func githubURL(v string) string {
	if v == "" || strings.Contains(v, "://") || strings.HasPrefix(v, "github.com") {
		if strings.HasPrefix(v, "github.com") {
			return "https://" + v
		}
		return v
	}
	return "https://github.com/" + strings.TrimPrefix(v, "@")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
