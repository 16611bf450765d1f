package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/core/service"
)

type HTTPHandler struct {
	campaigns   *service.CampaignService
	consumption *service.ConsumptionService
	warehouse   *service.WarehouseService
	reports     *service.ReportService
}

func NewHTTPHandler(
	campaigns *service.CampaignService,
	consumption *service.ConsumptionService,
	warehouse *service.WarehouseService,
	reports *service.ReportService,
) *HTTPHandler {
	return &HTTPHandler{
		campaigns:   campaigns,
		consumption: consumption,
		warehouse:   warehouse,
		reports:     reports,
	}
}

// Router wires every ledger operation onto its route.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	r.HandleFunc("/api/campaigns", h.CreateCampaign).Methods(http.MethodPost)
	r.HandleFunc("/api/campaigns/{id}", h.GetCampaign).Methods(http.MethodGet)
	r.HandleFunc("/api/campaigns/{id}/start", h.StartCampaign).Methods(http.MethodPost)
	r.HandleFunc("/api/campaigns/{id}/allocations", h.Reallocate).Methods(http.MethodPut)
	r.HandleFunc("/api/campaigns/{id}/finalize", h.FinalizeCampaign).Methods(http.MethodPost)
	r.HandleFunc("/api/campaigns/{id}/report", h.CampaignReport).Methods(http.MethodGet)

	r.HandleFunc("/api/consumptions", h.Consume).Methods(http.MethodPost)
	r.HandleFunc("/api/consumptions", h.History).Methods(http.MethodGet)

	r.HandleFunc("/api/products/{id}/stock", h.ProductStock).Methods(http.MethodGet)
	r.HandleFunc("/api/products/{id}/restock", h.Restock).Methods(http.MethodPost)
	return r
}

func (h *HTTPHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.Join(domain.ErrValidation, err))
		return
	}

	campaign, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"campaign_id":     campaign.ID,
		"allocated_total": campaign.AllocatedTotal,
		"state":           campaign.State,
	})
}

func (h *HTTPHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.campaigns.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *HTTPHandler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.campaigns.Start(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"state":       domain.CampaignStateInProgress,
	})
}

type reallocateRequest struct {
	ProductID   string                    `json:"product_id"`
	Allocations []service.AllocationInput `json:"allocations"`
}

func (h *HTTPHandler) Reallocate(w http.ResponseWriter, r *http.Request) {
	var req reallocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(domain.ErrValidation, err))
		return
	}

	total, err := h.campaigns.Reallocate(r.Context(), mux.Vars(r)["id"], req.ProductID, req.Allocations)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"allocated_total": total})
}

func (h *HTTPHandler) FinalizeCampaign(w http.ResponseWriter, r *http.Request) {
	returned, err := h.campaigns.Finalize(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"returned_quantity": returned})
}

func (h *HTTPHandler) CampaignReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.CampaignReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var in service.ConsumeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.Join(domain.ErrValidation, err))
		return
	}

	result, err := h.consumption.Consume(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := h.reports.History(r.Context(), domain.ConsumptionFilter{
		ProductID:  q.Get("product_id"),
		CampaignID: q.Get("campaign_id"),
		WorkerID:   q.Get("worker_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) ProductStock(w http.ResponseWriter, r *http.Request) {
	view, err := h.warehouse.Stock(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *HTTPHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(domain.ErrValidation, err))
		return
	}

	onHand, err := h.warehouse.AddStock(r.Context(), mux.Vars(r)["id"], req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quantity_on_hand": onHand})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the error taxonomy to status codes so callers can tell "not
// enough stock" from "system busy, retry" from "campaign already closed".
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrContention):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
