package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

type modelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// Models handles GET /v1/models, listing every client-facing model name
// this gateway has a built-in or operator-configured mapping for.
func Models(c *gin.Context) {
	created := time.Now().Unix()
	names := upstream.KnownClientModels()
	cards := make([]modelCard, 0, len(names))
	for _, name := range names {
		cards = append(cards, modelCard{ID: name, Object: "model", Created: created, OwnedBy: "nexusgate"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": cards})
}
