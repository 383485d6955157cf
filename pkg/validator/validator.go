package validator

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// MaxMessageLength is the longest private message text accepted, in runes.
const MaxMessageLength = 4000

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func ValidateRegister(email, username, password string) ValidationErrors {
	errs := make(ValidationErrors)
	validateEmail(email, errs)

	username = strings.TrimSpace(username)
	switch {
	case username == "":
		errs.Add("username", "Username is required")
	case len(username) < 3:
		errs.Add("username", "Username must be at least 3 characters")
	case len(username) > 50:
		errs.Add("username", "Username is too long")
	case !usernameRegex.MatchString(username):
		errs.Add("username", "Username can only contain letters, numbers, _ and -")
	}

	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
	}

	return errs
}

func ValidateLogin(email, password string) ValidationErrors {
	errs := make(ValidationErrors)
	validateEmail(email, errs)
	if password == "" {
		errs.Add("password", "Password is required")
	}
	return errs
}

// ValidateMessage checks the body of a send-message request.
func ValidateMessage(text string, clientID *string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" {
		errs.Add("text", "text is required")
	} else if utf8.RuneCountInString(text) > MaxMessageLength {
		errs.Add("text", "Message is too long")
	}

	if clientID != nil && (*clientID == "" || len(*clientID) > 128) {
		errs.Add("client_id", "client_id must be between 1 and 128 characters")
	}

	return errs
}

func validateEmail(email string, errs ValidationErrors) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}
}
