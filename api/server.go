// Package api is the read-only admin introspection surface SPEC_FULL.md §5
// adds: ruleset/session/queue snapshots and a JWT-gated websocket tail of
// recently dispatched messages. Grounded on mbp/api's gin.Engine + JWT +
// bruteguard shape (mbp/api/router.go, mbp/api/auth.go,
// mbp/api/system_Info.go), trimmed from mbp's full user/rule/policy CRUD
// surface down to the read-only scope this module's spec calls for.
package api

import (
	"synrelay/app"
	"synrelay/common/logx"
)

// Server holds the gin engine's handler receivers.
type Server struct {
	App *app.App
	log *logx.Logger
}

func New(a *app.App) *Server {
	return &Server{App: a, log: logx.New(logx.WithPrefix("api"))}
}
