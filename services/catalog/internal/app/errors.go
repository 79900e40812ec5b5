package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// This message is intended to be shown to end users and should not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email or password")

	ErrEmailAndPasswordRequired = errors.New("Please provide email and password")
	ErrEmailAlreadyExists       = errors.New("Email already exists")
	ErrUsernameTaken            = errors.New("Username already taken")

	// ErrUnauthorized covers missing, invalid, revoked and orphaned tokens.
	ErrUnauthorized = errors.New("unauthorized")

	ErrPersonNotFound  = errors.New("Person not found")
	ErrChannelNotFound = errors.New("Channel not found")
	ErrVideoNotFound   = errors.New("Video not found")

	ErrPersonReferenced = errors.New("Cannot delete person: Referenced in videos")
	ErrUnknownPerson    = errors.New("referenced person does not exist")
	ErrUnknownChannel   = errors.New("referenced channel does not exist")

	ErrVideoFileRequired    = errors.New("Video file is required")
	ErrUnsupportedVideoType = errors.New("Invalid file type. Only video files are allowed.")
	ErrVideoFileMissing     = errors.New("video file not found in storage")
)
