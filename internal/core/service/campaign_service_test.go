package service

import (
	"context"
	"errors"
	"testing"

	"github.com/munivet/doseledger/internal/adapter/storage"
	"github.com/munivet/doseledger/internal/core/domain"
)

func newTestStore(productID string, onHand int64) *storage.MemoryStore {
	store := storage.NewMemoryStore()
	store.SeedProduct(domain.Product{
		ID:             productID,
		Name:           "Rabies vaccine",
		Unit:           "dose",
		QuantityOnHand: onHand,
	})
	return store
}

// totalQuantity sums warehouse, remaining allocations and recorded
// consumption for one product; the conservation law says this never changes.
func totalQuantity(t *testing.T, store *storage.MemoryStore, productID string, campaignIDs ...string) int64 {
	t.Helper()
	ctx := context.Background()

	product, err := store.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	total := product.QuantityOnHand

	for _, id := range campaignIDs {
		allocs, err := store.ListAllocations(ctx, id)
		if err != nil {
			t.Fatalf("ListAllocations failed: %v", err)
		}
		for _, a := range allocs {
			total += a.RemainingQuantity
		}
	}

	recs, err := store.ListConsumptions(ctx, domain.ConsumptionFilter{ProductID: productID})
	if err != nil {
		t.Fatalf("ListConsumptions failed: %v", err)
	}
	for _, rec := range recs {
		total += rec.Quantity
	}
	return total
}

func TestCreateCampaign_Success(t *testing.T) {
	store := newTestStore("vaccine", 100)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, err := svc.Create(ctx, CreateCampaignInput{
		Name:      "spring campaign",
		ProductID: "vaccine",
		Allocations: []AllocationInput{
			{WorkerID: "worker-x", Quantity: 20},
			{WorkerID: "worker-y", Quantity: 30},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if campaign.AllocatedTotal != 50 {
		t.Errorf("expected allocated_total 50, got %d", campaign.AllocatedTotal)
	}
	if campaign.State != domain.CampaignStatePlanned {
		t.Errorf("expected planned state, got %s", campaign.State)
	}

	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 50 {
		t.Errorf("expected warehouse 50, got %d", product.QuantityOnHand)
	}

	allocs, _ := store.ListAllocations(ctx, campaign.ID)
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	for _, a := range allocs {
		if a.InitialQuantity != a.RemainingQuantity {
			t.Errorf("worker %s: initial %d != remaining %d", a.WorkerID, a.InitialQuantity, a.RemainingQuantity)
		}
	}

	if got := totalQuantity(t, store, "vaccine", campaign.ID); got != 100 {
		t.Errorf("conservation violated: total %d, want 100", got)
	}
}

func TestCreateCampaign_ProductNotFound(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewCampaignService(store, nil, nil)

	_, err := svc.Create(context.Background(), CreateCampaignInput{
		Name:        "ghost",
		ProductID:   "missing",
		Allocations: []AllocationInput{{WorkerID: "w", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestCreateCampaign_InsufficientStock(t *testing.T) {
	store := newTestStore("vaccine", 10)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateCampaignInput{
		Name:      "too big",
		ProductID: "vaccine",
		Allocations: []AllocationInput{
			{WorkerID: "worker-x", Quantity: 8},
			{WorkerID: "worker-y", Quantity: 8},
		},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	// No partial allocation may be visible.
	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 10 {
		t.Errorf("warehouse changed on failed create: %d", product.QuantityOnHand)
	}
}

func TestCreateCampaign_Validation(t *testing.T) {
	store := newTestStore("vaccine", 10)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateCampaignInput
	}{
		{"missing name", CreateCampaignInput{ProductID: "vaccine"}},
		{"missing product", CreateCampaignInput{Name: "c"}},
		{"zero quantity", CreateCampaignInput{Name: "c", ProductID: "vaccine",
			Allocations: []AllocationInput{{WorkerID: "w", Quantity: 0}}}},
		{"duplicate worker", CreateCampaignInput{Name: "c", ProductID: "vaccine",
			Allocations: []AllocationInput{{WorkerID: "w", Quantity: 1}, {WorkerID: "w", Quantity: 2}}}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, tc.in); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got: %v", tc.name, err)
		}
	}
}

func TestStartCampaign(t *testing.T) {
	store := newTestStore("vaccine", 100)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, err := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "w", Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got, _ := store.GetCampaign(ctx, campaign.ID)
	if got.State != domain.CampaignStateInProgress {
		t.Errorf("expected in_progress, got %s", got.State)
	}

	// A second start must be rejected.
	if err := svc.Start(ctx, campaign.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on double start, got: %v", err)
	}

	if err := svc.Start(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing campaign, got: %v", err)
	}
}

func TestReallocate_IncreaseAndNewWorker(t *testing.T) {
	store := newTestStore("vaccine", 100)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, err := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "worker-a", Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	total, err := svc.Reallocate(ctx, campaign.ID, "vaccine", []AllocationInput{
		{WorkerID: "worker-a", Quantity: 15},
		{WorkerID: "worker-b", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("Reallocate failed: %v", err)
	}
	if total != 20 {
		t.Errorf("expected allocated_total 20, got %d", total)
	}

	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 80 {
		t.Errorf("expected warehouse 80, got %d", product.QuantityOnHand)
	}

	allocs, _ := store.ListAllocations(ctx, campaign.ID)
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].WorkerID != "worker-a" || allocs[0].InitialQuantity != 15 || allocs[0].RemainingQuantity != 15 {
		t.Errorf("worker-a: got %+v", allocs[0])
	}
	if allocs[1].WorkerID != "worker-b" || allocs[1].InitialQuantity != 5 || allocs[1].RemainingQuantity != 5 {
		t.Errorf("worker-b: got %+v", allocs[1])
	}

	if got := totalQuantity(t, store, "vaccine", campaign.ID); got != 100 {
		t.Errorf("conservation violated: total %d, want 100", got)
	}
}

func TestReallocate_DecreaseReturnsToWarehouse(t *testing.T) {
	store := newTestStore("vaccine", 100)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, _ := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "worker-a", Quantity: 30}},
	})

	total, err := svc.Reallocate(ctx, campaign.ID, "vaccine", []AllocationInput{
		{WorkerID: "worker-a", Quantity: 12},
	})
	if err != nil {
		t.Fatalf("Reallocate failed: %v", err)
	}
	if total != 12 {
		t.Errorf("expected allocated_total 12, got %d", total)
	}

	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 88 {
		t.Errorf("expected warehouse 88, got %d", product.QuantityOnHand)
	}
}

func TestReallocate_RejectsBelowConsumed(t *testing.T) {
	store := newTestStore("vaccine", 100)
	campaigns := NewCampaignService(store, nil, nil)
	consumption := NewConsumptionService(store, nil, nil)
	ctx := context.Background()

	campaign, _ := campaigns.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "worker-a", Quantity: 10}},
	})
	if err := campaigns.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Worker consumes 3, so initial can never drop below 3.
	for i := 0; i < 3; i++ {
		if _, err := consumption.Consume(ctx, ConsumeInput{
			CampaignID: campaign.ID,
			WorkerID:   "worker-a",
			SubjectRef: "animal-1",
			Quantity:   1,
		}); err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
	}

	_, err := campaigns.Reallocate(ctx, campaign.ID, "vaccine", []AllocationInput{
		{WorkerID: "worker-a", Quantity: 2},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for reduction below consumed, got: %v", err)
	}

	// Reduction down to exactly the consumed amount is allowed.
	total, err := campaigns.Reallocate(ctx, campaign.ID, "vaccine", []AllocationInput{
		{WorkerID: "worker-a", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("Reallocate to consumed amount failed: %v", err)
	}
	if total != 3 {
		t.Errorf("expected allocated_total 3, got %d", total)
	}

	allocs, _ := store.ListAllocations(ctx, campaign.ID)
	if allocs[0].RemainingQuantity != 0 {
		t.Errorf("expected remaining 0, got %d", allocs[0].RemainingQuantity)
	}
	if got := totalQuantity(t, store, "vaccine", campaign.ID); got != 100 {
		t.Errorf("conservation violated: total %d, want 100", got)
	}
}

func TestReallocate_BatchRollsBackOnAnyFailure(t *testing.T) {
	store := newTestStore("vaccine", 10)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, _ := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "worker-a", Quantity: 5}},
	})

	// worker-a's increase alone would fit; worker-z's does not. The whole
	// batch must roll back, including worker-a's delta.
	_, err := svc.Reallocate(ctx, campaign.ID, "vaccine", []AllocationInput{
		{WorkerID: "worker-a", Quantity: 8},
		{WorkerID: "worker-z", Quantity: 10},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 5 {
		t.Errorf("expected warehouse unchanged at 5, got %d", product.QuantityOnHand)
	}
	allocs, _ := store.ListAllocations(ctx, campaign.ID)
	if len(allocs) != 1 || allocs[0].InitialQuantity != 5 {
		t.Errorf("expected worker-a untouched at 5, got %+v", allocs)
	}
	got, _ := store.GetCampaign(ctx, campaign.ID)
	if got.AllocatedTotal != 5 {
		t.Errorf("expected allocated_total unchanged at 5, got %d", got.AllocatedTotal)
	}
}

func TestReallocate_ProductMismatch(t *testing.T) {
	store := newTestStore("vaccine", 100)
	store.SeedProduct(domain.Product{ID: "other", QuantityOnHand: 100})
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, _ := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "w", Quantity: 1}},
	})

	_, err := svc.Reallocate(ctx, campaign.ID, "other", []AllocationInput{
		{WorkerID: "w", Quantity: 2},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for product mismatch, got: %v", err)
	}
}

func TestReallocate_FinishedCampaignRejected(t *testing.T) {
	store := newTestStore("vaccine", 100)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, _ := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "w", Quantity: 10}},
	})
	if _, err := svc.Finalize(ctx, campaign.ID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	_, err := svc.Reallocate(ctx, campaign.ID, "vaccine", []AllocationInput{
		{WorkerID: "w", Quantity: 20},
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got: %v", err)
	}
}

func TestFinalize_EndToEndScenario(t *testing.T) {
	// Warehouse starts at 100. Allocate {X:20, Y:30}, X consumes 5,
	// finalize: warehouse = 50 + 15 + 30 = 95, everything zeroed, total
	// quantity conserved at 100.
	store := newTestStore("vaccine", 100)
	campaigns := NewCampaignService(store, nil, nil)
	consumption := NewConsumptionService(store, nil, nil)
	ctx := context.Background()

	campaign, err := campaigns.Create(ctx, CreateCampaignInput{
		Name:      "c",
		ProductID: "vaccine",
		Allocations: []AllocationInput{
			{WorkerID: "worker-x", Quantity: 20},
			{WorkerID: "worker-y", Quantity: 30},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := campaigns.Start(ctx, campaign.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 50 {
		t.Fatalf("expected warehouse 50 after allocation, got %d", product.QuantityOnHand)
	}

	result, err := consumption.Consume(ctx, ConsumeInput{
		CampaignID: campaign.ID,
		WorkerID:   "worker-x",
		SubjectRef: "animal-7",
		Quantity:   5,
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if result.Remaining != 15 {
		t.Errorf("expected remaining 15, got %d", result.Remaining)
	}

	returned, err := campaigns.Finalize(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if returned != 45 {
		t.Errorf("expected 45 returned, got %d", returned)
	}

	product, _ = store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 95 {
		t.Errorf("expected warehouse 95, got %d", product.QuantityOnHand)
	}

	allocs, _ := store.ListAllocations(ctx, campaign.ID)
	for _, a := range allocs {
		if a.RemainingQuantity != 0 {
			t.Errorf("worker %s: expected remaining 0, got %d", a.WorkerID, a.RemainingQuantity)
		}
	}

	got, _ := store.GetCampaign(ctx, campaign.ID)
	if got.State != domain.CampaignStateFinished {
		t.Errorf("expected finished state, got %s", got.State)
	}
	if got.AllocatedTotal != 0 {
		t.Errorf("expected allocated_total 0, got %d", got.AllocatedTotal)
	}

	// 95 in warehouse + 0 remaining + 5 recorded = 100.
	if total := totalQuantity(t, store, "vaccine", campaign.ID); total != 100 {
		t.Errorf("conservation violated: total %d, want 100", total)
	}
}

func TestFinalize_SecondCallRejected(t *testing.T) {
	store := newTestStore("vaccine", 100)
	svc := NewCampaignService(store, nil, nil)
	ctx := context.Background()

	campaign, _ := svc.Create(ctx, CreateCampaignInput{
		Name:        "c",
		ProductID:   "vaccine",
		Allocations: []AllocationInput{{WorkerID: "w", Quantity: 40}},
	})

	if _, err := svc.Finalize(ctx, campaign.ID); err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}

	_, err := svc.Finalize(ctx, campaign.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double finalize, got: %v", err)
	}

	// Warehouse must be credited exactly once.
	product, _ := store.GetProduct(ctx, "vaccine")
	if product.QuantityOnHand != 100 {
		t.Errorf("expected warehouse 100, got %d", product.QuantityOnHand)
	}
}

func TestFinalize_NotFound(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewCampaignService(store, nil, nil)

	_, err := svc.Finalize(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}
