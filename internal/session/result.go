package session

import (
	"autolead.app/crm/internal/model"
	"autolead.app/crm/internal/redirect"
)

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is the toast the client shows after an auth operation.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// AuthResult is the uniform outcome of SignIn, SignUp and SignOut.
type AuthResult struct {
	User       *model.User     `json:"user,omitempty"`
	Session    *model.Session  `json:"session,omitempty"`
	Token      string          `json:"-"`
	Error      error           `json:"-"`
	Notice     *Notice         `json:"notice,omitempty"`
	RedirectTo *redirect.Route `json:"redirect_to"`
	Snapshot   *Snapshot       `json:"-"`
}

const homeRoute = redirect.RouteHome

func routePtr(r redirect.Route) *redirect.Route {
	return &r
}
