package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type statsResp struct {
	Timestamp int64 `json:"timestamp"`
	Sessions  int   `json:"sessions"`
	Listeners int   `json:"listeners"`
}

// GET /api/stats
func (s *Server) stats(c *gin.Context) {
	srv := s.App.Server()
	writeJSON(c, http.StatusOK, statsResp{
		Timestamp: time.Now().UnixMilli(),
		Sessions:  srv.SessionCount(),
		Listeners: srv.ListenerCount(),
	})
}

type rulesetResp struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	Rules     int    `json:"rules"`
	Parsers   int    `json:"parsers"`
	HasQueue  bool   `json:"has_queue"`
}

// GET /api/rulesets
func (s *Server) listRulesets(c *gin.Context) {
	reg := s.App.Registry()
	def := reg.Default()
	var out []rulesetResp
	for _, name := range reg.Names() {
		rs, ok := reg.Get(name)
		if !ok {
			continue
		}
		out = append(out, rulesetResp{
			Name:      rs.Name,
			IsDefault: def != nil && def.Name == rs.Name,
			Rules:     len(rs.RulesSnapshot()),
			Parsers:   len(rs.ParsersSnapshot()),
			HasQueue:  rs.Queue != nil,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"rulesets": out})
}

// GET /api/sessions
func (s *Server) sessions(c *gin.Context) {
	srv := s.App.Server()
	writeJSON(c, http.StatusOK, gin.H{"active": srv.SessionCount()})
}
