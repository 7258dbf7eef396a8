package handlers

import "github.com/gin-gonic/gin"

// Mount registers every endpoint on g, relative to the API base path.
func (h *Handlers) Mount(g gin.IRouter) {
	rec := g.Group("/recoveries")
	rec.GET("/match", h.MatchRecovery)
	rec.POST("/drafts", h.SaveDraft)
	rec.POST("/send", h.SendRecovery)
	rec.POST("/link", h.LinkPayments)

	decl := g.Group("/declarations")
	decl.GET("", h.ListDeclarations)
	decl.GET("/:id", h.GetDeclaration)
	decl.GET("/:id/payments", h.DeclarationPayments)
	decl.POST("/:id/revoke", h.RevokeRecovery)

	pay := g.Group("/payments")
	pay.POST("", h.CreatePayment)
	pay.GET("", h.ListPayments)
	pay.GET("/:id", h.GetPayment)
	pay.POST("/:id/validate", h.ValidatePayment)
	pay.POST("/:id/undo", h.UndoPayment)
	pay.DELETE("/:id", h.DeletePayment)

	g.GET("/companies", h.ListCompanies)
	g.POST("/companies", h.CreateCompany)
	g.GET("/chauffeurs", h.ListChauffeurs)
	g.POST("/chauffeurs", h.CreateChauffeur)

	g.GET("/notifications", h.ListNotifications)
	g.POST("/notifications/:id/read", h.MarkNotificationRead)

	g.GET("/stream/:collection", h.StreamChanges)
}
