package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"mailcampaign/internal/models"
	"mailcampaign/internal/service"
)

// maxBodyBytes caps request bodies on write endpoints
const maxBodyBytes = 1 << 20

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /campaigns - creates a campaign with its recipients
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	w.Header().Set("Location", campaignPath(campaign.ID))
	WriteCreated(w, campaign)
}

// List handles GET /campaigns - lists campaigns with stats, newest first
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.campaignService.ListCampaigns(r.Context())
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{Campaigns: campaigns})
}

// GetByID handles GET /campaigns/{id} - gets a campaign with recipients
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// Update handles PATCH /campaigns/{id}
func (h *CampaignHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	var req service.UpdateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.UpdateCampaign(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// Delete handles DELETE /campaigns/{id}
func (h *CampaignHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := h.campaignService.DeleteCampaign(r.Context(), id); err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteNoContent(w)
}

// Dispatch handles POST /campaigns/{id}/dispatch - starts delivery in the background
func (h *CampaignHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	result, err := h.campaignService.RequestDispatch(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteAccepted(w, campaignPath(id), result)
}

// Recipients handles GET /campaigns/{id}/recipients
func (h *CampaignHandler) Recipients(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	recipients, err := h.campaignService.ListRecipients(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListRecipientsResponse{Recipients: recipients})
}

// campaignID extracts and validates the {id} path variable
func campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID format")
		return 0, false
	}
	if id <= 0 {
		WriteValidationError(w, "campaign ID must be greater than 0")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "Request body is empty")
			return false
		}
		WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON format")
		return false
	}
	return true
}

func campaignPath(id int) string {
	return fmt.Sprintf("/campaigns/%d", id)
}

// Request/Response types

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns []*models.CampaignWithStats `json:"campaigns"`
}

// ListRecipientsResponse represents the response for listing recipients
type ListRecipientsResponse struct {
	Recipients []*models.Recipient `json:"recipients"`
}
