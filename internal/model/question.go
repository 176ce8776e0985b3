// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data: similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import (
	"strings"
	"time"
)

// Question is a single asked question together with its answers.
//
// Text and ImageURL are both optional, but a question is never created with
// both missing; that rule lives in the submitter, not in the stores.
//
// Answers are stored with the question (a column-per-question table in SQLite,
// an array field in Firestore) and keep insertion order.
//
// The `firestore:"..."` tags are read by the Firestore repository; ID is the
// document name there, so it is not stored as a field.
type Question struct {
	ID        string    `json:"id"                 firestore:"-"`
	Text      *string   `json:"text"               firestore:"text"`
	ImageURL  *string   `json:"imageUrl"           firestore:"imageUrl"`
	AskedBy   string    `json:"askedBy"            firestore:"askedBy"`
	CreatedAt time.Time `json:"createdAt"          firestore:"createdAt"`
	Answers   []Answer  `json:"answers"            firestore:"answers"`
}

// Answer is one reply to a question.
//
// ID is assigned when the answer is created and every mutation (append,
// remove) is keyed on it. Two answers with the same text, author and
// timestamp are still two answers.
type Answer struct {
	ID         string    `json:"id"         firestore:"id"`
	Text       string    `json:"text"       firestore:"text"`
	AnsweredBy string    `json:"answeredBy" firestore:"answeredBy"`
	CreatedAt  time.Time `json:"createdAt"  firestore:"createdAt"`
}

// HasText reports whether the question carries non-empty text.
func (q *Question) HasText() bool {
	return q.Text != nil && strings.TrimSpace(*q.Text) != ""
}

// AnswerByID returns the stored answer with the given id, if any.
func (q *Question) AnswerByID(id string) (Answer, bool) {
	for _, a := range q.Answers {
		if a.ID == id {
			return a, true
		}
	}
	return Answer{}, false
}

// Clone returns a deep copy, so a snapshot handed to one consumer can't be
// mutated through another's slice.
func (q Question) Clone() Question {
	c := q
	if q.Text != nil {
		t := *q.Text
		c.Text = &t
	}
	if q.ImageURL != nil {
		u := *q.ImageURL
		c.ImageURL = &u
	}
	// Never nil, so an unanswered question encodes as "answers": [].
	c.Answers = make([]Answer, len(q.Answers))
	copy(c.Answers, q.Answers)
	return c
}

// StringPtr returns nil for an empty string and a pointer to s otherwise.
// It is how "text or null" is produced from form input.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
