// Search and campaign HTTP handlers.
//
// This file exposes the semantic search endpoint and the read-only campaign
// pick-list:
//   - GET /search     (rank chunks against a query)
//   - GET /campaigns  (list campaigns for bucket creation)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/services"
	"github.com/tbourn/go-knowledge-backend/internal/utils"
)

// SearchResponse wraps the ranked results for one query.
type SearchResponse struct {
	Query   string                  `json:"query"`
	Results []services.SearchResult `json:"results"`
}

// ListCampaignsResponse wraps the campaign pick-list.
type ListCampaignsResponse struct {
	Campaigns []domain.Campaign `json:"campaigns"`
}

// Search godoc
// @ID          search
// @Summary     Semantic search over the knowledge base
// @Description Ranks chunks of the user's ready documents against the query. Scope with bucket_type=general|campaign; campaign_id narrows a campaign search to one campaign. An empty result list is a valid answer.
// @Tags        Search
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(user123)
// @Param       q            query   string  true  "Query text"
// @Param       bucket_type  query   string  false "Restrict to a bucket type" Enums(general, campaign)
// @Param       campaign_id  query   string  false "Restrict to one campaign (requires bucket_type=campaign)" format(uuid)
// @Param       limit        query   int     false "Maximum results" minimum(1) maximum(50) default(10)
//
// @Success     200  {object} handlers.SearchResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Failure     503  {object} handlers.ErrorResponse "Search backend unavailable"
// @Router      /search [get]
func (h *Handlers) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	bucketType := strings.ToLower(strings.TrimSpace(c.Query("bucket_type")))
	campaignID := strings.TrimSpace(c.Query("campaign_id"))

	const maxLimit = 50
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	if limit > maxLimit {
		limit = maxLimit
	}

	results, err := h.searchSvc.Search(c.Request.Context(), ownerID(c), query, bucketType, campaignID, limit)
	if err != nil {
		switch err {
		case services.ErrEmptyQuery, services.ErrInvalidScope, services.ErrInvalidLimit:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case services.ErrSearchUnavailable:
			fail(c, http.StatusServiceUnavailable, ErrCodeSearchUnavailable, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, SearchResponse{Query: query, Results: results})
}

// ListCampaigns godoc
// @ID          listCampaigns
// @Summary     List campaigns
// @Description Returns the campaign pick-list used when creating campaign buckets. Campaign data is owned elsewhere; this endpoint is read-only.
// @Tags        Campaigns
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.ListCampaignsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /campaigns [get]
func (h *Handlers) ListCampaigns(c *gin.Context) {
	items, err := h.campSvc.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCampaignsResponse{Campaigns: items})
}
