// internal/workers/pet-health/build-health-prompt/builder_test.go
package buildhealthprompt

import (
	"strings"
	"testing"

	"pet-health-workers/internal/models"

	"github.com/stretchr/testify/assert"
)

func intPtr(i int) *int { return &i }

func exampleDog() models.AnswerSet {
	return models.AnswerSet{
		Species:     "Dog",
		Eating:      "Yes",
		Elimination: "Yes",
		Age:         intPtr(3),
		Grooming:    "Yes",
		Sociability: "Sociable",
		Hiding:      "No",
		Reluctant:   "No",
		Vomiting:    "No",
	}
}

func exampleCat() models.AnswerSet {
	return models.AnswerSet{
		Species:         "Cat",
		Eating:          "No",
		Elimination:     "Yes",
		Age:             intPtr(12),
		Grooming:        "No",
		Vomiting:        "Yes",
		GroomingRegular: "No",
		GroomingChanges: "Yes",
		BehaviorChange:  "Yes",
		Sociability:     "Shy",
		Hiding:          "Yes",
		Reluctant:       "Yes",
	}
}

var catOnlyLines = []string{"Cat-specific questions:", "- Grooms regularly:", "- Changes in grooming:"}
var dogOnlyLines = []string{"Dog-specific questions:", "- Cleans or licks itself regularly:", "- Changes in cleaning habits:"}

func TestBuild_ExampleDog(t *testing.T) {
	prompt := Build(exampleDog())

	assert.Contains(t, prompt, "Dog")
	assert.Contains(t, prompt, "3")
	assert.Contains(t, prompt, "Sociable")
	for _, l := range catOnlyLines {
		assert.NotContains(t, prompt, l)
	}
	for _, l := range dogOnlyLines {
		assert.Contains(t, prompt, l)
	}
}

func TestBuild_CatBlockExcludesDogLines(t *testing.T) {
	prompt := Build(exampleCat())

	for _, l := range catOnlyLines {
		assert.Contains(t, prompt, l)
	}
	for _, l := range dogOnlyLines {
		assert.NotContains(t, prompt, l)
	}
}

func TestBuild_AnswersOnLabelledLines(t *testing.T) {
	tests := []struct {
		name    string
		answers models.AnswerSet
		lines   []string
	}{
		{
			name:    "dog",
			answers: exampleDog(),
			lines: []string{
				"Health evaluation for a Dog.",
				"- Eating and drinking: Yes",
				"- Normal elimination: Yes",
				"- Age: 3",
				"- Grooming: Yes",
				"- Vomiting: No",
				"- Sociability: Sociable",
				"- Hides: No",
				"- Reluctant to come out: No",
			},
		},
		{
			name:    "cat",
			answers: exampleCat(),
			lines: []string{
				"Health evaluation for a Cat.",
				"- Eating and drinking: No",
				"- Age: 12",
				"- Vomiting: Yes",
				"- Grooms regularly: No",
				"- Changes in grooming: Yes",
				"- Change in behavior: Yes",
				"- Sociability: Shy",
				"- Hides: Yes",
				"- Reluctant to come out: Yes",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := strings.Split(Build(tt.answers), "\n")
			for _, want := range tt.lines {
				assert.Contains(t, lines, want)
			}
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	for _, answers := range []models.AnswerSet{exampleDog(), exampleCat(), {}} {
		assert.Equal(t, Build(answers), Build(answers))
	}
}

func TestBuild_MissingFieldsPrintNone(t *testing.T) {
	lines := strings.Split(Build(models.AnswerSet{Species: "Dog"}), "\n")

	assert.Contains(t, lines, "- Eating and drinking: None")
	assert.Contains(t, lines, "- Age: None")
	assert.Contains(t, lines, "- Changes in cleaning habits: None")
	assert.Contains(t, lines, "- Hides: None")
}

func TestBuild_ZeroAgeIsNotMissing(t *testing.T) {
	answers := exampleDog()
	answers.Age = intPtr(0)
	assert.Contains(t, strings.Split(Build(answers), "\n"), "- Age: 0")
}

func TestBuild_FixedBlocks(t *testing.T) {
	prompt := Build(exampleDog())

	for _, c := range criteriaLines {
		assert.Contains(t, prompt, c)
	}
	assert.Contains(t, prompt, "Feline Grimace Scale")
	assert.Contains(t, prompt, "consult a veterinarian")
	assert.True(t, strings.HasSuffix(prompt, "without losing diagnostic precision."))

	criteriaAt := strings.Index(prompt, "Criteria for evaluating")
	disclaimerAt := strings.Index(prompt, "**Note:**")
	assert.Less(t, strings.Index(prompt, "- Reluctant to come out"), criteriaAt)
	assert.Less(t, criteriaAt, disclaimerAt)
}

func TestBuild_MediaLine(t *testing.T) {
	answers := exampleDog()
	assert.NotContains(t, Build(answers), "A video is attached")

	answers.Media = &models.Media{DisplayName: "rex.mp4", URI: "https://files.example/abc", MimeType: "video/mp4"}
	prompt := Build(answers)
	assert.Contains(t, prompt, "A video is attached for visual analysis: rex.mp4.")
	assert.Less(t, strings.Index(prompt, "A video is attached"), strings.Index(prompt, "**Note:**"))
}

func TestBuild_Spanish(t *testing.T) {
	answers := models.AnswerSet{
		Species:     "Gato",
		Eating:      "Sí",
		Elimination: "Sí",
		Age:         intPtr(3),
		Grooming:    "Sí",
		Sociability: "Tímido",
		Language:    "es",
		Media:       &models.Media{URI: "https://files.example/abc"},
	}
	prompt := Build(answers)

	assert.Contains(t, prompt, "Evaluación de salud para un Gato.")
	assert.Contains(t, prompt, "Preguntas específicas para gatos:")
	assert.NotContains(t, prompt, "Preguntas específicas para perros:")
	assert.Contains(t, prompt, "- Sociabilidad: Tímido")
	assert.Contains(t, prompt, "- Vómitos: None")
	assert.Contains(t, prompt, "Se adjunta un video para análisis visual.")
	assert.Contains(t, prompt, "consulte a un veterinario")
}
