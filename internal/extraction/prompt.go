package extraction

import "strings"

const fieldTemplate = `{
  "certificate": "Birth or Death Certificate",
  "name": "Extracted Name",
  "sex": "Male/Female/Other",
  "date_of_birth": "DD/MM/YYYY",
  "place_of_birth": "Extracted Place",
  "address": "Address data",
  "father_name": "Extracted Father's Name",
  "mother_name": "Extracted Mother's Name",
  "registration_number": "Extracted Registration Number",
  "date_of_registration": "DD/MM/YYYY",
  "office_seal_present": true,
  "date_of_issue": "DD/MM/YYYY",
  "date_of_death": "DD/MM/YYYY"
}`

const singlePageIntro = "You need to extract information from the uploaded document in English. The fields you have to extract are as follows:"

const multiPageIntro = "You need to extract information in English and return a single JSON response for all uploaded pages, considering them as a single document. The fields you have to extract are as follows:"

var promptNotes = []string{
	"date_of_death applies only to death certificates; leave it empty otherwise.",
	"Use an empty string for any field that is not present on the document.",
	"The language of the extraction must be English only.",
	"If text in another language is found, translate it into English.",
	"Return exactly one JSON object and nothing else.",
}

// SystemPrompt returns the instruction given to the model.
func SystemPrompt(multiPage bool) string {
	var b strings.Builder
	if multiPage {
		b.WriteString(multiPageIntro)
	} else {
		b.WriteString(singlePageIntro)
	}
	b.WriteString("\n")
	b.WriteString(fieldTemplate)
	b.WriteString("\n\n")
	for _, n := range promptNotes {
		b.WriteString("note: ")
		b.WriteString(n)
		b.WriteString("\n")
	}
	return b.String()
}

func userPrompt(pageCount int, multiPage bool) string {
	if multiPage && pageCount > 1 {
		return "Extract the fields from the attached pages as one document."
	}
	return "Extract the fields from the attached document."
}
