package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/progsync/internal/progress"
	"github.com/roach88/progsync/internal/quiz"
)

const barWidth = 20

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
)

func check(done bool) string {
	if done {
		return doneStyle.Render("[x]")
	}
	return mutedStyle.Render("[ ]")
}

func bar(percent int) string {
	filled := percent * barWidth / 100
	return barStyle.Render(strings.Repeat("#", filled)) + mutedStyle.Render(strings.Repeat(".", barWidth-filled))
}

// statusView is the status command result.
type statusView struct {
	User    string             `json:"user"`
	Modules []progress.Summary `json:"modules"`
}

func (v statusView) WriteText(w io.Writer) error {
	fmt.Fprintln(w, mutedStyle.Render("learner: "+v.User))
	for _, s := range v.Modules {
		fmt.Fprintf(w, "%s %s %3d%%\n", titleStyle.Render(s.Title), bar(s.Percent), s.Percent)
		fmt.Fprintf(w, "  %s overview  lessons %d/%d  quizzes %d/%d\n",
			check(s.Overview), s.LessonsDone, s.LessonsTotal, s.QuizzesPassed, s.QuizzesTotal)
		fmt.Fprintf(w, "  %s practical %s assessment\n", check(s.Practical), check(s.Assessment))
	}
	return nil
}

// changeView reports a completion command.
type changeView struct {
	Module  string `json:"module"`
	Unit    string `json:"unit"`
	Added   bool   `json:"added"`
	Percent int    `json:"percent"`
}

func (v changeView) WriteText(w io.Writer) error {
	verb := "already complete"
	if v.Added {
		verb = "completed"
	}
	_, err := fmt.Fprintf(w, "%s %s/%s %s (%d%%)\n", check(true), v.Module, v.Unit, verb, v.Percent)
	return err
}

// quizView renders a quiz and the current attempt.
type quizView struct {
	Code      string     `json:"code"`
	Module    string     `json:"module"`
	Title     string     `json:"title,omitempty"`
	State     string     `json:"state"`
	Answers   []*int     `json:"answers"`
	Score     int        `json:"score"`
	Total     int        `json:"total"`
	Attempts  int        `json:"attempts"`
	FirstPass bool       `json:"first_pass"`
	Prompts   []string   `json:"prompts"`
	Options   [][]string `json:"options"`
	Correct   []int      `json:"-"`
}

func newQuizView(m *quiz.Machine, module string) quizView {
	q := m.Quiz()
	a := m.Attempt()
	v := quizView{
		Code:      q.Code,
		Module:    module,
		Title:     q.Title,
		State:     m.State().String(),
		Answers:   a.Answers,
		Score:     a.Score,
		Total:     a.Total,
		Attempts:  a.Attempts,
		FirstPass: a.FirstPass,
	}
	for _, qu := range q.Questions {
		v.Prompts = append(v.Prompts, qu.Prompt)
		v.Options = append(v.Options, qu.Options)
		v.Correct = append(v.Correct, qu.Answer)
	}
	return v
}

func (v quizView) WriteText(w io.Writer) error {
	title := v.Title
	if title == "" {
		title = v.Code
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(title), mutedStyle.Render("("+v.State+")"))
	reviewing := v.State == quiz.Reviewing.String() || v.State == quiz.Passed.String()
	for i, prompt := range v.Prompts {
		fmt.Fprintf(w, "%d. %s\n", i+1, prompt)
		for j, opt := range v.Options[i] {
			marker := " "
			if i < len(v.Answers) && v.Answers[i] != nil && *v.Answers[i] == j {
				marker = "*"
			}
			line := fmt.Sprintf("   %s %d) %s", marker, j+1, opt)
			if reviewing && marker == "*" {
				if j == v.Correct[i] {
					line = doneStyle.Render(line)
				} else {
					line = failStyle.Render(line)
				}
			}
			fmt.Fprintln(w, line)
		}
	}
	if v.Attempts > 0 {
		fmt.Fprintf(w, "score %d/%d after %d attempt(s)\n", v.Score, v.Total, v.Attempts)
	}
	return nil
}

// resultView reports a submission.
type resultView struct {
	Code     string `json:"code"`
	Score    int    `json:"score"`
	Total    int    `json:"total"`
	Passed   bool   `json:"passed"`
	Attempts int    `json:"attempts"`
}

func (v resultView) WriteText(w io.Writer) error {
	verdict := failStyle.Render("not passed")
	if v.Passed {
		verdict = doneStyle.Render("passed")
	}
	_, err := fmt.Fprintf(w, "%s: %d/%d %s (attempt %d)\n", v.Code, v.Score, v.Total, verdict, v.Attempts)
	return err
}

// messageView is a one-line result.
type messageView struct {
	Message string `json:"message"`
}

func (v messageView) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, v.Message)
	return err
}
