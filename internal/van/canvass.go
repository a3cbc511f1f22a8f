package van

import (
	"strings"
	"time"
)

// DefaultContactTypeID is VAN's contact type for SMS.
const DefaultContactTypeID = 37

const (
	dialingPrefix = "1"

	responseTypeSurvey       = "SurveyResponse"
	responseTypeActivistCode = "ActivistCode"
	activistCodeActionApply  = "Apply"
)

// Phone identifies the number the contact was reached on.
type Phone struct {
	DialingPrefix string `json:"dialingPrefix"`
	PhoneNumber   string `json:"phoneNumber"`
}

// CanvassContext describes how and when the contact was reached.
type CanvassContext struct {
	PhoneID       *int64 `json:"phoneId,omitempty"`
	Phone         Phone  `json:"phone"`
	ContactTypeID int    `json:"contactTypeId"`
	DateCanvassed string `json:"dateCanvassed"`
}

// Response is one entry of a canvass response. SurveyResponse entries carry
// the survey question and response ids; ActivistCode entries carry the code
// id and the action.
type Response struct {
	Type             string `json:"type"`
	SurveyQuestionID int64  `json:"surveyQuestionId,omitempty"`
	SurveyResponseID int64  `json:"surveyResponseId,omitempty"`
	ActivistCodeID   int64  `json:"activistCodeId,omitempty"`
	Action           string `json:"action,omitempty"`
}

// CanvassResponse is the body element of POST /people/{id}/canvassResponses.
type CanvassResponse struct {
	CanvassContext CanvassContext `json:"canvassContext"`
	ResultCodeID   *int64         `json:"resultCodeId"`
	Responses      []Response     `json:"responses"`
}

// SurveyResponse is a (survey question, response option) pair in VAN ids.
type SurveyResponse struct {
	QuestionID int64
	ResponseID int64
}

// Bucket is the set of targets written for a contact on one canvass date.
// The lists are deduplicated and sorted.
type Bucket struct {
	CanvassedAt     time.Time
	SyncIDs         []string
	ResultCodes     []int64
	ActivistCodes   []int64
	SurveyResponses []SurveyResponse
}

// NormalizePhone reduces a cell number to the ten-digit national number VAN
// expects alongside dialing prefix 1.
func NormalizePhone(cell string) string {
	var b strings.Builder
	for _, r := range cell {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && strings.HasPrefix(digits, dialingPrefix) {
		digits = digits[1:]
	}
	return digits
}

// dateCanvassed renders t in the layout VAN accepts for dateCanvassed.
func dateCanvassed(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatCanvassResponse(cell string, phoneID *int64, contactTypeID int, b Bucket, resultCodeID *int64) CanvassResponse {
	responses := make([]Response, 0, len(b.SurveyResponses)+len(b.ActivistCodes))
	for _, sr := range b.SurveyResponses {
		responses = append(responses, Response{
			Type:             responseTypeSurvey,
			SurveyQuestionID: sr.QuestionID,
			SurveyResponseID: sr.ResponseID,
		})
	}
	for _, id := range b.ActivistCodes {
		responses = append(responses, Response{
			Type:           responseTypeActivistCode,
			ActivistCodeID: id,
			Action:         activistCodeActionApply,
		})
	}
	return CanvassResponse{
		CanvassContext: CanvassContext{
			PhoneID:       phoneID,
			Phone:         Phone{DialingPrefix: dialingPrefix, PhoneNumber: NormalizePhone(cell)},
			ContactTypeID: contactTypeID,
			DateCanvassed: dateCanvassed(b.CanvassedAt),
		},
		ResultCodeID: resultCodeID,
		Responses:    responses,
	}
}
