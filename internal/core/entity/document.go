package entity

import (
	"time"

	"paydesk/internal/core/apperror"
)

// DocumentState is the lifecycle tag of a staged document.
type DocumentState string

const (
	StateDraft     DocumentState = "draft"
	StatePosted    DocumentState = "posted"
	StateCancelled DocumentState = "cancelled"
)

// Document is a staged business document that is edited as a draft and
// then either posted or cancelled. Both terminal states are final.
// State changes leave Version alone; repositories bump it on update.
type Document struct {
	BaseDocument

	// Number is assigned when the document is posted.
	Number string `db:"number" json:"number,omitempty"`

	State DocumentState `db:"state" json:"state"`

	PostedAt *time.Time `db:"posted_at" json:"postedAt,omitempty"`
	PostedBy string     `db:"posted_by" json:"postedBy,omitempty"`
}

// NewDocument creates a draft document owned by createdBy.
func NewDocument(createdBy string) Document {
	return Document{
		BaseDocument: NewBaseDocument(createdBy),
		State:        StateDraft,
	}
}

// IsDraft reports whether the document still accepts changes.
func (d *Document) IsDraft() bool {
	return d.State == StateDraft || d.State == ""
}

// CanModify rejects changes to posted or cancelled documents.
func (d *Document) CanModify() error {
	if d.IsDraft() {
		return nil
	}
	return apperror.NewDraftClosed(d.ID.String(), string(d.State))
}

// MarkPosted moves a draft to the posted state.
func (d *Document) MarkPosted(number, postedBy string, at time.Time) error {
	if err := d.CanModify(); err != nil {
		return err
	}
	d.State = StatePosted
	d.Number = number
	d.PostedBy = postedBy
	d.PostedAt = &at
	d.UpdatedBy = postedBy
	return nil
}

// MarkCancelled moves a draft to the cancelled state.
func (d *Document) MarkCancelled(by string) error {
	if err := d.CanModify(); err != nil {
		return err
	}
	d.State = StateCancelled
	d.UpdatedBy = by
	return nil
}
