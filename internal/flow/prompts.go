package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// BuildSystemPrompt renders the per-turn system prompt from the full
// context: who the school is, what is already known about the family, and
// how the assistant should behave.
func BuildSystemPrompt(fc *models.FullContext) string {
	school := fc.Runtime.School

	var b strings.Builder
	b.WriteString("You are the virtual assistant for ")
	b.WriteString(school.Name)
	b.WriteString(", a preschool. You help parents book school tours, arrange callbacks, ")
	b.WriteString("manage existing bookings and answer questions over WhatsApp.\n\n")

	b.WriteString("School details:\n")
	if school.BranchAddress != "" {
		b.WriteString("- Address: " + school.BranchAddress + "\n")
	}
	if school.BranchPhone != "" {
		b.WriteString("- Phone: " + school.BranchPhone + "\n")
	}
	b.WriteString("- Tour slots: " + strings.Join(school.TourSlots, ", ") + " (" + school.Timezone + ")\n\n")

	if summary := profileSummary(fc.Persistent); summary != "" {
		b.WriteString("Known about this family (do not re-ask for any of it):\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	if fc.Active != nil && fc.Active.TaskType != "" {
		b.WriteString(fmt.Sprintf("A %s task is in progress (%s).\n", fc.Active.TaskType, fc.Active.TaskStatus))
		if hint, ok := fc.Active.TaskData[continuationHintKey].(string); ok && hint != "" {
			b.WriteString(hint + "\n")
		}
		b.WriteString("\n")
	}

	if fc.Runtime.FormattedHistory != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(fc.Runtime.FormattedHistory)
		b.WriteString("\n\n")
	}

	b.WriteString("Guidelines:\n")
	b.WriteString("- Use the tools to act; never claim a booking or callback happened without the tool confirming it.\n")
	b.WriteString("- When a tool asks for missing details, ask for all of them in one message.\n")
	b.WriteString("- The parent is messaging on WhatsApp, so their phone number is already known for tour bookings.\n")
	b.WriteString("- Keep replies short, warm and concrete. One emoji at most.\n")
	b.WriteString("- If the user asks for a human, or you cannot help, use assign_to_human.\n")
	return b.String()
}

func profileSummary(p *models.PersistentProfile) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, "- "+label+": "+value)
		}
	}
	add("Parent", p.ParentName)
	add("Email", p.ParentEmail)
	add("Phone", p.ParentPhone)
	add("Child", p.ChildName)
	add("Child DOB", p.ChildDOB)
	add("Level", p.ChildLevel)
	add("Preferred enrollment", p.PreferredEnrollmentDate)
	if p.HasScheduledTour() {
		lines = append(lines, fmt.Sprintf("- Tour booked: %s at %s", p.TourDate, p.TourTime))
	} else if p.TourStatus == models.TourStatusCancelled {
		lines = append(lines, "- A previous tour was cancelled")
	}
	if p.CallbackRequested {
		lines = append(lines, "- A callback has already been requested")
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
