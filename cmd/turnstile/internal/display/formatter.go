package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nfrund/turnstile/internal/topics"
)

var title = cases.Title(language.English)

// TopicDisplay represents a topic for display purposes
type TopicDisplay struct {
	topics.Config
	Source   string `json:"source,omitempty"`
	Steps    int    `json:"steps"`
	Guards   int    `json:"guards"`
	LoadedAt string `json:"loaded_at,omitempty"`
}

func newTopicDisplay(reg *topics.Registry, t *topics.Topic) TopicDisplay {
	d := TopicDisplay{
		Config: t.Config(),
		Steps:  len(t.Permissions()),
		Guards: len(t.GuardNames()),
	}
	if e, ok := reg.Entry(t.Name()); ok {
		d.Source = e.Source
	}
	return d
}

// TopicsTable writes topics as an aligned table
func TopicsTable(w io.Writer, reg *topics.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "NAME\tPERMISSIONS\tGUARDS\tFIRE CALLBACKS")
	fmt.Fprintln(tw, "----\t-----------\t------\t--------------")

	list := reg.List()
	if len(list) == 0 {
		fmt.Fprintln(tw, "No topics found")
	}
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			t.Name(),
			truncateString(joinOrDash(t.Permissions()), 40),
			truncateString(joinOrDash(t.GuardNames()), 30),
			truncateString(joinOrDash(t.FireCallbacks()), 30))
	}
	return tw.Flush()
}

// TopicsJSON writes topics as indented JSON with a count
func TopicsJSON(w io.Writer, reg *topics.Registry) error {
	list := reg.List()
	displays := make([]TopicDisplay, len(list))
	for i, t := range list {
		displays[i] = newTopicDisplay(reg, t)
	}

	output := struct {
		Topics []TopicDisplay `json:"topics"`
		Count  int            `json:"count"`
	}{
		Topics: displays,
		Count:  len(displays),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// TopicDetails writes everything a topic declares
func TopicDetails(w io.Writer, reg *topics.Registry, t *topics.Topic, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(newTopicDisplay(reg, t))
	}

	d := newTopicDisplay(reg, t)
	field := func(label, value string) {
		fmt.Fprintf(w, "%-16s %s\n", title.String(label)+":", value)
	}
	field("name", t.Name())
	field("source", d.Source)
	field("permissions", quoteOrDash(t.Permissions()))
	for step := 0; step < t.GuardSteps(); step++ {
		field(fmt.Sprintf("guards step %d", step), joinOrDash(t.GuardCallbacks(step)))
	}
	field("fire callbacks", joinOrDash(t.FireCallbacks()))
	return nil
}

// ValidationResult writes the outcome of validating a topics file
func ValidationResult(w io.Writer, path string, reg *topics.Registry, err error) {
	if err != nil {
		fmt.Fprintf(w, "❌ %s is invalid: %v\n", path, err)
		return
	}
	fmt.Fprintf(w, "✅ %s is valid (%d topics)\n", path, reg.Count())
	for _, t := range reg.List() {
		var warnings []string
		for i, p := range t.Permissions() {
			if strings.TrimSpace(p) == "" {
				warnings = append(warnings, fmt.Sprintf("permission %d is blank", i))
			}
		}
		for i, f := range t.FireCallbacks() {
			if strings.TrimSpace(f) == "" {
				warnings = append(warnings, fmt.Sprintf("fire callback %d is blank and will be skipped", i))
			}
		}
		if len(warnings) == 0 {
			fmt.Fprintf(w, "   %s\n", t.Name())
			continue
		}
		fmt.Fprintf(w, "   %s (%s)\n", t.Name(), strings.Join(warnings, "; "))
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func quoteOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
