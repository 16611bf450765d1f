package service

import (
	"context"
	"fmt"

	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/port"
)

// WorkerUsage is one worker's line in a campaign report.
type WorkerUsage struct {
	WorkerID          string `json:"worker_id"`
	InitialQuantity   int64  `json:"initial_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	ConsumedQuantity  int64  `json:"consumed_quantity"`
	DoseCount         int64  `json:"dose_count"`
}

type CampaignReport struct {
	Campaign       domain.Campaign `json:"campaign"`
	Workers        []WorkerUsage   `json:"workers"`
	TotalInitial   int64           `json:"total_initial"`
	TotalRemaining int64           `json:"total_remaining"`
	TotalConsumed  int64           `json:"total_consumed"`
	RecordCount    int64           `json:"record_count"`
}

// ReportService is the read-only projection over the ledger. It never mutates
// anything, so it takes no locks and no transactions.
type ReportService struct {
	store port.LedgerStore
}

func NewReportService(store port.LedgerStore) *ReportService {
	return &ReportService{store: store}
}

func (s *ReportService) CampaignReport(ctx context.Context, campaignID string) (*CampaignReport, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("campaign id is required: %w", domain.ErrValidation)
	}
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}

	allocs, err := s.store.ListAllocations(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListConsumptions(ctx, domain.ConsumptionFilter{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}

	// Consumed totals come from the append-only records, not initial minus
	// remaining: after finalization remaining is zeroed, the records are not.
	doseCounts := make(map[string]int64)
	consumed := make(map[string]int64)
	for _, rec := range records {
		doseCounts[rec.WorkerID]++
		consumed[rec.WorkerID] += rec.Quantity
	}

	report := &CampaignReport{
		Campaign:    *campaign,
		Workers:     make([]WorkerUsage, 0, len(allocs)),
		RecordCount: int64(len(records)),
	}
	for _, a := range allocs {
		report.Workers = append(report.Workers, WorkerUsage{
			WorkerID:          a.WorkerID,
			InitialQuantity:   a.InitialQuantity,
			RemainingQuantity: a.RemainingQuantity,
			ConsumedQuantity:  consumed[a.WorkerID],
			DoseCount:         doseCounts[a.WorkerID],
		})
		report.TotalInitial += a.InitialQuantity
		report.TotalRemaining += a.RemainingQuantity
		report.TotalConsumed += consumed[a.WorkerID]
	}
	return report, nil
}

func (s *ReportService) History(ctx context.Context, filter domain.ConsumptionFilter) ([]domain.ConsumptionRecord, error) {
	return s.store.ListConsumptions(ctx, filter)
}
