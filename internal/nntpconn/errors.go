package nntpconn

import "errors"

var (
	// ErrArticleNotFound is returned for a 430/423 "no such article" response.
	ErrArticleNotFound = errors.New("nntpconn: no such article")
	// ErrFetchError covers transport-transient failures worth a retry.
	ErrFetchError = errors.New("nntpconn: fetch error")
	// ErrBadResponse is returned when a status line cannot be parsed or an
	// unexpected code is received for the command issued.
	ErrBadResponse = errors.New("nntpconn: bad response")
	// ErrConnectionLost indicates the underlying socket failed mid-command.
	ErrConnectionLost = errors.New("nntpconn: connection lost")
	// ErrAuthRejected is returned when AUTHINFO USER/PASS fails.
	ErrAuthRejected = errors.New("nntpconn: authentication rejected")
	// ErrNoGroupSelected names the "no group selected" condition. No
	// operation in this package returns it: group-relative operations
	// send GROUP for the group they are given themselves.
	ErrNoGroupSelected = errors.New("nntpconn: no group selected")
	// ErrPostRejected is returned when the server's final response to a
	// POST is not 240.
	ErrPostRejected = errors.New("nntpconn: post rejected")
)
