// internal/workers/pet-health/build-health-prompt/builder.go
package buildhealthprompt

import (
	"strconv"
	"strings"

	"pet-health-workers/internal/models"
)

// Missing is printed for any unanswered question.
const Missing = "None"

type promptText struct {
	header        string
	eating        string
	elimination   string
	age           string
	grooming      string
	vomiting      string
	catHeader     string
	catGrooming   string
	catChanges    string
	dogHeader     string
	dogGrooming   string
	dogChanges    string
	behavior      string
	sociability   string
	hiding        string
	reluctant     string
	criteria      string
	mediaAttached string
	disclaimer    string
	tone          string
}

// The visual assessment criteria are sent in English for both languages.
var criteriaLines = []string{
	"Eyes: Are the eyes half-closed or narrowed? Is there any wrinkling around the eyes?",
	"Nose and Cheeks: Is the bridge of the nose flattened or elongated? Are the cheeks flattened or appear sunken?",
	"Ears: Are the ears turned inward and forward, creating a pointed shape? Has the space between the ears increased?",
	"Whiskers: Are the whiskers stiff and held close to the face? Are the whiskers clumped together? Have the whiskers lost their natural downward curve?",
	"Additional Considerations: Pain Assessment using a validated scale (e.g., Feline Grimace Scale for cats) and species-specific features.",
}

var texts = map[string]promptText{
	models.LanguageEnglish: {
		header:        "Health evaluation for a %s.",
		eating:        "Eating and drinking",
		elimination:   "Normal elimination",
		age:           "Age",
		grooming:      "Grooming",
		vomiting:      "Vomiting",
		catHeader:     "Cat-specific questions:",
		catGrooming:   "Grooms regularly",
		catChanges:    "Changes in grooming",
		dogHeader:     "Dog-specific questions:",
		dogGrooming:   "Cleans or licks itself regularly",
		dogChanges:    "Changes in cleaning habits",
		behavior:      "Change in behavior",
		sociability:   "Sociability",
		hiding:        "Hides",
		reluctant:     "Reluctant to come out",
		criteria:      "Criteria for evaluating the information:",
		mediaAttached: "A video is attached for visual analysis",
		disclaimer:    "**Note:** This information is analyzed by an AI, which can make mistakes. If in doubt, consult a veterinarian.",
		tone:          "Respond with empathy towards the owner without losing diagnostic precision.",
	},
	models.LanguageSpanish: {
		header:        "Evaluación de salud para un %s.",
		eating:        "Comiendo y bebiendo",
		elimination:   "Eliminación normal",
		age:           "Edad",
		grooming:      "Acicalamiento",
		vomiting:      "Vómitos",
		catHeader:     "Preguntas específicas para gatos:",
		catGrooming:   "Se acicala regularmente",
		catChanges:    "Cambios en el acicalamiento",
		dogHeader:     "Preguntas específicas para perros:",
		dogGrooming:   "Se limpia o lame regularmente",
		dogChanges:    "Cambios en hábitos de aseo",
		behavior:      "Cambio en comportamiento",
		sociability:   "Sociabilidad",
		hiding:        "Se esconde",
		reluctant:     "Reacio a salir",
		criteria:      "Criterios para evaluar la información:",
		mediaAttached: "Se adjunta un video para análisis visual",
		disclaimer:    "**Nota:** Esta información es analizada por una IA, la cual puede equivocarse. Ante cualquier duda, consulte a un veterinario.",
		tone:          "Responde con empatía hacia el dueño sin perder precisión diagnóstica.",
	},
}

// Build serialises answers into the prompt sent to the model. It has no side
// effects and the same answers always produce the same text.
func Build(answers models.AnswerSet) string {
	t := texts[answers.Lang()]
	var b strings.Builder

	b.WriteString(strings.Replace(t.header, "%s", value(answers.Species), 1))
	b.WriteString("\n")
	line(&b, t.eating, answers.Eating)
	line(&b, t.elimination, answers.Elimination)
	line(&b, t.age, age(answers.Age))
	line(&b, t.grooming, answers.Grooming)
	line(&b, t.vomiting, answers.Vomiting)
	b.WriteString("\n")

	if answers.IsCat() {
		b.WriteString(t.catHeader + "\n")
		line(&b, t.catGrooming, answers.GroomingRegular)
		line(&b, t.catChanges, answers.GroomingChanges)
	} else {
		b.WriteString(t.dogHeader + "\n")
		line(&b, t.dogGrooming, answers.GroomingRegular)
		line(&b, t.dogChanges, answers.GroomingChanges)
	}
	line(&b, t.behavior, answers.BehaviorChange)
	line(&b, t.sociability, answers.Sociability)
	line(&b, t.hiding, answers.Hiding)
	line(&b, t.reluctant, answers.Reluctant)
	b.WriteString("\n")

	b.WriteString(t.criteria + "\n")
	for _, c := range criteriaLines {
		b.WriteString(c + "\n")
	}
	b.WriteString("\n")

	if answers.Media != nil && answers.Media.URI != "" {
		b.WriteString(t.mediaAttached)
		if answers.Media.DisplayName != "" {
			b.WriteString(": " + answers.Media.DisplayName)
		}
		b.WriteString(".\n")
	}

	b.WriteString("\n" + t.disclaimer + "\n")
	b.WriteString(t.tone)
	return b.String()
}

func line(b *strings.Builder, label, answer string) {
	b.WriteString("- ")
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value(answer))
	b.WriteString("\n")
}

func value(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Missing
	}
	return s
}

func age(a *int) string {
	if a == nil {
		return Missing
	}
	return strconv.Itoa(*a)
}
