package api

import (
	"github.com/gin-gonic/gin"
)

// Router builds the admin API's gin.Engine: a public /login, and an
// authenticated, read-only introspection group. Trimmed from
// mbp/api/router.go's full CRUD surface (users/rules/policies/static
// frontend) down to what SPEC_FULL.md §5 calls for.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/login", s.login)
	}

	auth := apiGroup.Group("/")
	auth.Use(s.AuthRequired())
	{
		auth.GET("/stats", s.stats)
		auth.GET("/rulesets", s.listRulesets)
		auth.GET("/sessions", s.sessions)
		auth.GET("/systemInfo", s.systemInfo)
		auth.GET("/tail", s.tail)
	}

	return r
}
