package candidate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
first_name: Ada
last_name: Lovelace
email: ada@example.com
phone: "+44 20 7946 0000"
location:
  city: London
  country: United Kingdom
links:
  linkedin: https://linkedin.com/in/ada
  github: ada
work:
  current_company: Analytical Engines
  current_title: Engineer
  years_of_experience: 7
education:
  school: University of London
  degree: BSc
  graduation_year: 1835
skills: [go, sql, a, b, c, d, e, f, g, h, i, j, k, l, m, n, o, p, q, r, s, t]
application:
  work_authorization: "Yes"
  require_sponsorship: "No"
resume_path: /data/ada.pdf
extra:
  pronouns: she/her
`

func TestLoad_Surface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	s := p.Surface()

	get := func(k string) string {
		v, _ := s.Get(k)
		return v
	}
	assert.Equal(t, "Ada Lovelace", get(FullName))
	assert.Equal(t, "Ada Lovelace", get(LegalName))
	assert.Equal(t, "Ada", get(PreferredName))
	assert.Equal(t, "https://github.com/ada", get(GitHubURL))
	assert.Equal(t, "7", get(YearsOfExperience))
	assert.Equal(t, "1835", get(GraduationYear))
	assert.Equal(t, "BSc", get(EducationLevel))
	assert.Equal(t, "/data/ada.pdf", get(Resume))
	assert.Equal(t, "she/her", get(Pronouns))

	_, ok := s.Get(Address)
	assert.False(t, ok, "empty values are not part of the surface")

	assert.Len(t, splitSkills(get(Skills)), MaxSkills)
	assert.Contains(t, s.Keys(), Email)
}

func TestSurface_SplitsFullName(t *testing.T) {
	p, err := Parse([]byte("full_name: Grace Brewster Hopper\n"))
	require.NoError(t, err)
	s := p.Surface()
	first, _ := s.Get(FirstName)
	last, _ := s.Get(LastName)
	assert.Equal(t, "Grace", first)
	assert.Equal(t, "Brewster Hopper", last)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("skills: [go]\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("first_name: [unclosed"))
	assert.Error(t, err)
}

func TestNilSurface(t *testing.T) {
	var s *Surface
	_, ok := s.Get(Email)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestStreamText(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 712 Td\n(Ada Lovelace) Tj\nT*\n[(Analytical) -250 (Engines)] TJ\n(caf\\351 \\(Paris\\)) Tj\nET\n")
	got := streamText(stream)
	assert.Contains(t, got, "Ada Lovelace")
	assert.Contains(t, got, "AnalyticalEngines")
	assert.Contains(t, got, "(Paris)")
}

func TestLoadDocument_NotPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))
	_, err := LoadDocument(path)
	assert.Error(t, err)
}

func TestDocumentExcerpt(t *testing.T) {
	d := &Document{Text: "héllo world"}
	assert.Equal(t, "h", d.Excerpt(2)) // does not split é
	assert.Equal(t, "héllo world", d.Excerpt(100))
	var nilDoc *Document
	assert.Empty(t, nilDoc.Excerpt(10))
}

func splitSkills(s string) []string {
	return strings.Split(s, ", ")
}
