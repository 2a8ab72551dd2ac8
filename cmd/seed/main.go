package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"mailcampaign/internal/config"
	"mailcampaign/internal/database"
	"mailcampaign/internal/logging"
	"mailcampaign/internal/repository"
	"mailcampaign/internal/service"
)

const demoTitle = "Demo Campaign - Customer Feedback Request"

// Command-line flags
var (
	recipientCount = flag.Int("recipients", 10, "Number of recipients in the demo campaign")
	keepData       = flag.Bool("keep", false, "Keep existing campaigns instead of clearing them")
)

func main() {
	flag.Parse()

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.GetDatabaseDSN(), database.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		logrus.Fatal(err)
	}
	defer db.Close()

	// seeding never dispatches, so no scheduler is needed
	campaigns := service.NewCampaignService(repository.NewStore(db), nil)

	if !*keepData {
		cleared, err := clearCampaigns(ctx, campaigns)
		if err != nil {
			logrus.Fatalf("Failed to clear campaigns: %v", err)
		}
		logrus.WithField("campaigns", cleared).Info("Cleared existing campaigns")
	}

	detail, err := campaigns.CreateCampaign(ctx, demoRequest(*recipientCount))
	if err != nil {
		logrus.Fatalf("Failed to seed demo campaign: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": detail.ID,
		"recipients":  len(detail.Recipients),
	}).Info("Seeded demo campaign")
	fmt.Fprintf(os.Stdout, "Dispatch it with: curl -X POST http://localhost:%s/campaigns/%d/dispatch\n", cfg.Server.Port, detail.ID)
}

func clearCampaigns(ctx context.Context, campaigns *service.CampaignService) (int, error) {
	existing, err := campaigns.ListCampaigns(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range existing {
		if err := campaigns.DeleteCampaign(ctx, c.ID); err != nil {
			return 0, err
		}
	}
	return len(existing), nil
}

func demoRequest(n int) *service.CreateCampaignRequest {
	req := &service.CreateCampaignRequest{Title: demoTitle}
	for i := 1; i <= n; i++ {
		req.Recipients = append(req.Recipients, service.RecipientInput{
			Name:  fmt.Sprintf("Customer %d", i),
			Email: fmt.Sprintf("customer%d@example.com", i),
		})
	}
	return req
}
