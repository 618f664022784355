package router

import (
	"ethapplist/internal/handlers"
	"ethapplist/internal/identity"
	"ethapplist/internal/middleware"
	"ethapplist/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the services the routes are served from.
type Deps struct {
	DB        *gorm.DB
	Verifier  *identity.Verifier
	Accounts  *services.Accounts
	Catalog   *services.Catalog
	Revisions *services.RevisionStore
	Votes     *services.VoteLedger
	Ranker    *services.TrendingRanker
	Listings  *services.Listings
	Ratings   *services.Ratings
	Queue     *services.ModerationQueue
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Handlers
	healthHandler := handlers.NewHealthHandler(d.DB)
	authHandler := handlers.NewAuthHandler(d.Verifier, d.Accounts)
	productHandler := handlers.NewProductHandler(d.Revisions, d.Listings, d.Ranker, d.Queue, d.Votes)
	voteHandler := handlers.NewVoteHandler(d.Votes)
	scoreHandler := handlers.NewScoreHandler(d.Ratings)
	userHandler := handlers.NewUserHandler(d.Votes, d.Queue)
	categoryHandler := handlers.NewCategoryHandler(d.Catalog)
	adminHandler := handlers.NewAdminHandler(d.Queue, d.Revisions)

	api := r.Group("/api")
	api.Use(middleware.LoadWallet(d.Verifier, d.Accounts))

	// Public routes
	api.GET("/health", healthHandler.Health)
	api.GET("/auth/challenge", authHandler.Challenge)
	api.POST("/auth/verify", authHandler.Verify)
	api.GET("/products", productHandler.List)
	api.GET("/products/random", productHandler.Random)
	api.GET("/products/:id", productHandler.Get)
	api.GET("/products/:id/history", productHandler.History)
	api.GET("/products/:id/scores", scoreHandler.Summary)
	api.GET("/categories", categoryHandler.ListCategories)
	api.GET("/chains", categoryHandler.ListChains)

	// Any signed-in wallet
	authorized := api.Group("")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.POST("/auth/logout", authHandler.Logout)
		authorized.POST("/products", productHandler.Create)
		authorized.DELETE("/products/:id", productHandler.Delete)
		authorized.POST("/products/:id/edit", productHandler.Edit)
		authorized.POST("/products/:id/upvote", voteHandler.Upvote)
		authorized.POST("/products/:id/scores", scoreHandler.Rate)
		authorized.GET("/products/:id/scores/me", scoreHandler.Mine)
		authorized.GET("/user/vote-states", voteHandler.VoteStates)
		authorized.GET("/user/permissions", userHandler.Permissions)
		authorized.GET("/user/profile", userHandler.Profile)
	}

	// Curators and admins
	curated := api.Group("")
	curated.Use(middleware.CuratorRequired())
	{
		curated.PUT("/products/:id", productHandler.Update)
		curated.POST("/categories", categoryHandler.CreateCategory)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.CuratorRequired())
	{
		admin.GET("/pending-changes", adminHandler.PendingChanges)
		admin.GET("/pending", adminHandler.PendingChanges)
		admin.GET("/products/:id", adminHandler.Product)
		admin.POST("/approve/:id", adminHandler.Approve)
		admin.POST("/reject/:id", adminHandler.Reject)
		admin.GET("/recent-edits", adminHandler.RecentEdits)
	}
}
