// Package catalog loads the course catalog: modules, their lessons and
// quizzes, from CUE files checked against an embedded schema.
package catalog

import (
	"sort"

	"github.com/roach88/progsync/internal/model"
)

// Question is one multiple-choice question.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Lesson is one lesson of a module.
type Lesson struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
}

// Quiz is a module quiz. Code is the quiz's storage slug.
type Quiz struct {
	Code      string     `json:"code"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Module is one learning module.
type Module struct {
	Slug       string      `json:"slug"`
	Title      string      `json:"title"`
	Track      model.Track `json:"track"`
	Lessons    []Lesson    `json:"lessons"`
	Quizzes    []Quiz      `json:"quizzes"`
	Practical  bool        `json:"practical"`
	Assessment bool        `json:"assessment"`

	aliases map[string]string
}

// Catalog is an immutable set of modules.
type Catalog struct {
	modules map[string]*Module
	quizzes map[string]*Module
}

func newCatalog(mods []*Module) *Catalog {
	c := &Catalog{
		modules: make(map[string]*Module, len(mods)),
		quizzes: make(map[string]*Module),
	}
	for _, m := range mods {
		m.index()
		c.modules[m.Slug] = m
		for _, q := range m.Quizzes {
			c.quizzes[q.Code] = m
		}
	}
	return c
}

// Module returns the module with the given slug.
func (c *Catalog) Module(slug string) (*Module, bool) {
	m, ok := c.modules[slug]
	return m, ok
}

// Modules returns every module sorted by slug.
func (c *Catalog) Modules() []*Module {
	out := make([]*Module, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Quiz finds a quiz by code and returns it with its module.
func (c *Catalog) Quiz(code string) (*Module, *Quiz, bool) {
	m, ok := c.quizzes[code]
	if !ok {
		return nil, nil, false
	}
	q, _ := m.Quiz(code)
	return m, q, true
}

// Quiz returns the module's quiz with the given code.
func (m *Module) Quiz(code string) (*Quiz, bool) {
	for i := range m.Quizzes {
		if m.Quizzes[i].Code == code {
			return &m.Quizzes[i], true
		}
	}
	return nil, false
}

// LessonIDs returns the canonical lesson ids in catalog order.
func (m *Module) LessonIDs() []string {
	ids := make([]string, len(m.Lessons))
	for i, l := range m.Lessons {
		ids[i] = l.ID
	}
	return ids
}

// HasLesson reports whether id is a canonical lesson id of the module.
func (m *Module) HasLesson(id string) bool {
	for _, l := range m.Lessons {
		if l.ID == id {
			return true
		}
	}
	return false
}

// NormalizeLessonID maps a legacy title-slug id to the canonical lesson id.
// Unknown ids are returned unchanged.
func (m *Module) NormalizeLessonID(id string) string {
	if canonical, ok := m.aliases[id]; ok {
		return canonical
	}
	return id
}

// index fills derived lesson ids and the legacy alias table.
func (m *Module) index() {
	m.aliases = make(map[string]string)
	for i := range m.Lessons {
		l := &m.Lessons[i]
		l.ID = model.LessonID(l.ID, l.Title, i)
		if alias := model.Slugify(l.Title); alias != "" && alias != l.ID {
			m.aliases[alias] = l.ID
		}
	}
	for i := range m.Lessons {
		delete(m.aliases, m.Lessons[i].ID)
	}
}
