package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

// repoTypes are the plural URL segments the API serves.
var repoTypes = []string{"models", "datasets", "spaces"}

// withParam injects a fixed path parameter, letting typed route groups share
// handlers that read :type.
func withParam(key, value string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: key, Value: value})
		c.Next()
	}
}

func (a *App) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{
			"X-Error-Code", "X-Error-Message", "X-Repo-Commit",
			"X-Linked-ETag", "X-Linked-Size", "ETag", "Link",
		},
		MaxAge: 12 * time.Hour,
	}))
	r.Use(a.authMW.Optional())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/whoami-v2", a.repoHandler.WhoAmI)
		api.POST("/validate-yaml", a.repoHandler.ValidateYAML)

		repos := api.Group("/repos", a.authMW.Required())
		{
			repos.POST("/create", a.repoHandler.Create)
			repos.POST("/delete", a.repoHandler.Delete)
			repos.POST("/move", a.repoHandler.Move)
		}

		orgs := api.Group("/organizations")
		{
			orgs.POST("", a.authMW.Required(), a.orgHandler.Create)
			orgs.GET("/:org", a.orgHandler.Get)
			orgs.PUT("/:org", a.authMW.Required(), a.orgHandler.Update)
			orgs.GET("/:org/members", a.orgHandler.Members)
			orgs.POST("/:org/members", a.authMW.Required(), a.orgHandler.AddMember)
			orgs.PUT("/:org/members/:username", a.authMW.Required(), a.orgHandler.UpdateMember)
			orgs.DELETE("/:org/members/:username", a.authMW.Required(), a.orgHandler.RemoveMember)
		}

		api.GET("/quota/:namespace", a.adminHandler.GetUsage)

		admin := api.Group("/admin", a.authMW.AdminOnly())
		{
			admin.PUT("/quota/:namespace", a.adminHandler.SetQuota)
			admin.POST("/quota/:namespace/recompute", a.adminHandler.RecomputeQuota)
			admin.POST("/lfs/sweep", a.adminHandler.SweepStaging)
			admin.POST("/gc/:type/:namespace/:name", a.adminHandler.CollectRepo)
		}

		for _, plural := range repoTypes {
			g := api.Group("/"+plural, withParam("type", plural))

			g.GET("", a.repoHandler.List)
			g.GET("/:namespace/:name", a.repoHandler.Info)
			g.GET("/:namespace/:name/revision/:revision", a.repoHandler.Info)
			g.GET("/:namespace/:name/tree/:revision/*path", a.repoHandler.Tree)
			g.POST("/:namespace/:name/paths-info/:revision", a.repoHandler.PathsInfo)
			g.GET("/:namespace/:name/refs", a.repoHandler.Refs)
			g.GET("/:namespace/:name/commits/:revision", a.repoHandler.Commits)

			g.GET("/:namespace/:name/resolve/:revision/*path", a.repoHandler.Resolve)
			g.HEAD("/:namespace/:name/resolve/:revision/*path", a.repoHandler.Resolve)

			authed := g.Group("", a.authMW.Required())
			authed.POST("/:namespace/:name/commit/:revision", a.commitH.Commit)
			authed.POST("/:namespace/:name/preupload/:revision", a.commitH.Preupload)
			authed.POST("/:namespace/:name/branch/:branch", a.repoHandler.CreateBranch)
			authed.DELETE("/:namespace/:name/branch/:branch", a.repoHandler.DeleteBranch)
			authed.POST("/:namespace/:name/tag/:revision", a.repoHandler.CreateTag)
			authed.DELETE("/:namespace/:name/tag/:revision", a.repoHandler.DeleteTag)
			authed.PUT("/:namespace/:name/settings", a.repoHandler.UpdateSettings)
			authed.POST("/:namespace/:name/super-squash/:revision", a.repoHandler.Squash)
		}
	}

	// Git smart HTTP, LFS batch and bare download URLs carry ".git" or live at
	// the root, outside the static route tree.
	r.NoRoute(a.dispatch)

	return r
}

// Download routes outside /api also serve typed plural prefixes; models
// additionally resolve at the bare root, matching hub URL conventions.
func (a *App) dispatch(c *gin.Context) {
	m, ok := matchSpecial(c.Request.URL.Path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	c.Params = append(c.Params,
		gin.Param{Key: "type", Value: m.plural},
		gin.Param{Key: "namespace", Value: m.namespace},
		gin.Param{Key: "name", Value: m.name},
	)

	switch m.kind {
	case specialInfoRefs:
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		a.gitHandler.InfoRefs(c)
	case specialUploadPack:
		if c.Request.Method != http.MethodPost {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		a.gitHandler.UploadPack(c)
	case specialReceivePack:
		a.gitHandler.ReceivePack(c)
	case specialGitHead:
		a.gitHandler.Head(c)
	case specialLFSBatch:
		if c.Request.Method != http.MethodPost {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		a.lfsHandler.Batch(c)
	case specialLFSVerify:
		if c.Request.Method != http.MethodPost {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		a.lfsHandler.Verify(c)
	case specialResolve:
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		c.Params = append(c.Params,
			gin.Param{Key: "revision", Value: m.revision},
			gin.Param{Key: "path", Value: "/" + m.path},
		)
		a.repoHandler.Resolve(c)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

// pluralSet maps plural URL segments to validity.
func isPlural(s string) bool {
	_, ok := model.ParseRepoType(s)
	return ok && (s == "models" || s == "datasets" || s == "spaces")
}
