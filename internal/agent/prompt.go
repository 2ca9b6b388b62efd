package agent

import (
	_ "embed"
	"strings"
	"text/template"
	"time"
)

// TimeLayout formats the current time shown to the model.
const TimeLayout = "2006-01-02 15:04:05 MST"

//go:embed assistant_prompt.tmpl
var assistantPromptText string

var assistantPrompt = template.Must(template.New("assistant").Parse(assistantPromptText))

// SystemPrompt renders the assistant's system prompt for a passenger.
func SystemPrompt(userInfo string, now time.Time) (string, error) {
	var b strings.Builder
	err := assistantPrompt.Execute(&b, struct {
		UserInfo string
		Time     string
	}{userInfo, now.Format(TimeLayout)})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
