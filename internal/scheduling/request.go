package scheduling

import (
	"time"

	"github.com/go-playground/validator/v10"

	"slowpress/internal/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// scheduleInput is the validated shape of an inbound schedule request.
type scheduleInput struct {
	ContentID   string            `validate:"required"`
	ContentType types.ContentType `validate:"required,oneof=post comment"`
	AuthorID    string            `validate:"required"`
	PublishAt   time.Time         `validate:"required"`
}

func validateSchedule(content *types.Content, publishAt time.Time) error {
	if content == nil {
		return types.NewAppError(types.ErrCodeInvalidRequest, "schedule request has no content", nil)
	}
	in := scheduleInput{
		ContentID:   content.ID,
		ContentType: content.Type,
		AuthorID:    content.AuthorID,
		PublishAt:   publishAt,
	}
	if err := validate.Struct(in); err != nil {
		return types.NewAppError(types.ErrCodeInvalidRequest, "invalid schedule request", err)
	}
	return nil
}
