package model

import "fmt"

// SubjectKind names the entity that travels through the approval gate and
// gets distributed: a generated review or a generated response.
type SubjectKind string

const (
	SubjectKindReview   SubjectKind = "review"
	SubjectKindResponse SubjectKind = "response"
)

func (k SubjectKind) IsValid() bool {
	return k == SubjectKindReview || k == SubjectKindResponse
}

type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   int64       `json:"id"`
}

func (s Subject) String() string {
	return fmt.Sprintf("%s/%d", s.Kind, s.ID)
}
