package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/munivet/doseledger/internal/adapter/storage"
	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/core/service"
)

// Hammers the consumption processor with concurrent dose requests against one
// worker allocation and checks that exactly the allocated amount is consumed.
const (
	productID     = "rabies-vaccine"
	workerID      = "worker-1"
	initialDoses  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	store.SeedProduct(domain.Product{
		ID:             productID,
		Name:           "Rabies vaccine",
		Unit:           "dose",
		QuantityOnHand: initialDoses,
	})

	campaigns := service.NewCampaignService(store, nil, nil)
	consumption := service.NewConsumptionService(store, nil, nil)

	campaign, err := campaigns.Create(ctx, service.CreateCampaignInput{
		Name:      "load test campaign",
		ProductID: productID,
		Allocations: []service.AllocationInput{
			{WorkerID: workerID, Quantity: initialDoses},
		},
	})
	if err != nil {
		log.Fatalf("failed to create campaign: %v", err)
	}
	if err := campaigns.Start(ctx, campaign.ID); err != nil {
		log.Fatalf("failed to start campaign: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(subject int) {
			defer wg.Done()

			_, err := consumption.Consume(ctx, service.ConsumeInput{
				CampaignID: campaign.ID,
				WorkerID:   workerID,
				SubjectRef: fmt.Sprintf("animal-%d", subject),
				Quantity:   1,
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Allocated Doses:  %d\n", initialDoses)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=======================================")

	if success == int32(initialDoses) && fail == int32(totalRequests-initialDoses) {
		fmt.Printf("PASS: Exactly %d consumptions succeeded, %d rejected\n", initialDoses, totalRequests-initialDoses)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialDoses, totalRequests-initialDoses, success, fail)
	}

	returned, err := campaigns.Finalize(ctx, campaign.ID)
	if err != nil {
		log.Fatalf("failed to finalize: %v", err)
	}
	product, _ := store.GetProduct(ctx, productID)

	fmt.Printf("Returned to warehouse: %d\n", returned)
	fmt.Printf("Final warehouse stock: %d\n", product.QuantityOnHand)

	if product.QuantityOnHand == int64(initialDoses-int(success)) {
		fmt.Println("PASS: Conservation holds")
	} else {
		fmt.Printf("FAIL: Expected warehouse %d, got %d\n", initialDoses-int(success), product.QuantityOnHand)
	}
}
