package models

import (
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Course is a published course.
type Course struct {
	ID              primitive.ObjectID  `bson:"_id" json:"id"`
	Title           string              `bson:"title" json:"title"`
	LandingTitle    string              `bson:"landing_title" json:"landingTitle"`
	Price           decimal.Decimal     `bson:"price" json:"price"`
	Published       bool                `bson:"published" json:"published"`
	Instructor      primitive.ObjectID  `bson:"instructor" json:"instructor"`
	PendingCourseID *primitive.ObjectID `bson:"pending_course_id" json:"pendingCourseId"`
	TotalLearners   int                 `bson:"total_learners" json:"totalLearners"`
}

// DisplayTitle is the title snapshot used on orders and gateway line items.
func (c *Course) DisplayTitle() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.LandingTitle != "":
		return c.LandingTitle
	}
	return "Course"
}

// PendingCourse is the pre-publication draft of a course.
type PendingCourse struct {
	ID         primitive.ObjectID  `bson:"_id" json:"id"`
	Title      string              `bson:"title" json:"title"`
	Price      decimal.Decimal     `bson:"price" json:"price"`
	Instructor primitive.ObjectID  `bson:"instructor" json:"instructor"`
	CourseID   *primitive.ObjectID `bson:"course_id" json:"courseId"`
}

type CourseKind string

const (
	CourseKindPublished CourseKind = "published"
	CourseKindDraft     CourseKind = "draft"
)

// CourseRef is a course resolved from either its published or its draft id.
type CourseRef struct {
	Kind       CourseKind
	ID         primitive.ObjectID
	LinkedID   *primitive.ObjectID // draft id of a published course, or published id of a draft
	Title      string
	Price      decimal.Decimal
	Published  bool
	Instructor primitive.ObjectID
}

// IDs returns the id and, when linked, its counterpart.
func (r CourseRef) IDs() []primitive.ObjectID {
	if r.LinkedID == nil {
		return []primitive.ObjectID{r.ID}
	}
	return []primitive.ObjectID{r.ID, *r.LinkedID}
}

func RefFromCourse(c *Course) CourseRef {
	return CourseRef{
		Kind:       CourseKindPublished,
		ID:         c.ID,
		LinkedID:   c.PendingCourseID,
		Title:      c.DisplayTitle(),
		Price:      c.Price,
		Published:  c.Published,
		Instructor: c.Instructor,
	}
}

func RefFromDraft(p *PendingCourse) CourseRef {
	return CourseRef{
		Kind:       CourseKindDraft,
		ID:         p.ID,
		LinkedID:   p.CourseID,
		Title:      p.Title,
		Price:      p.Price,
		Instructor: p.Instructor,
	}
}
