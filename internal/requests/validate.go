package requests

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

var httpURL = validation.By(func(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
})

var notBlank = validation.By(func(value any) error {
	s, _ := value.(string)
	if s != "" && strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

// Validate checks a creation request before it is submitted.
func (r CreationRequest) Validate() error {
	return wrapValidation(validation.ValidateStruct(&r,
		validation.Field(&r.APIName, validation.Required, notBlank, validation.Length(1, 200)),
		validation.Field(&r.BaseURL, validation.Required, httpURL),
		validation.Field(&r.RequesterEmail, validation.When(r.RequesterEmail != "", validation.Match(emailPattern))),
		validation.Field(&r.AuthType, validation.When(r.RequiresAuth, validation.Required)),
	))
}

// Validate checks an access request before it is submitted.
func (r AccessRequest) Validate() error {
	return wrapValidation(validation.ValidateStruct(&r,
		validation.Field(&r.APIID, validation.Required, notBlank),
		validation.Field(&r.Reason, validation.Length(0, 2000)),
		validation.Field(&r.RequesterEmail, validation.When(r.RequesterEmail != "", validation.Match(emailPattern))),
	))
}

// Validate checks a membership request before it is submitted.
func (r MembershipRequest) Validate() error {
	return wrapValidation(validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, notBlank),
		validation.Field(&r.Email, validation.Required, validation.Match(emailPattern)),
		validation.Field(&r.StructureID, validation.Required),
		validation.Field(&r.SectorID, validation.Required),
	))
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
