package models

// StructuredFields is the field set the extraction engine returns for a
// certificate. Dates are kept as DD/MM/YYYY strings.
type StructuredFields struct {
	Certificate        string `json:"certificate" firestore:"certificate"`
	Name               string `json:"name" firestore:"name"`
	Sex                string `json:"sex" firestore:"sex"`
	DateOfBirth        string `json:"date_of_birth" firestore:"date_of_birth"`
	PlaceOfBirth       string `json:"place_of_birth" firestore:"place_of_birth"`
	Address            string `json:"address" firestore:"address"`
	FatherName         string `json:"father_name" firestore:"father_name"`
	MotherName         string `json:"mother_name" firestore:"mother_name"`
	RegistrationNumber string `json:"registration_number" firestore:"registration_number"`
	DateOfRegistration string `json:"date_of_registration" firestore:"date_of_registration"`
	OfficeSealPresent  bool   `json:"office_seal_present" firestore:"office_seal_present"`
	DateOfIssue        string `json:"date_of_issue" firestore:"date_of_issue"`
	DateOfDeath        string `json:"date_of_death" firestore:"date_of_death"`
}
