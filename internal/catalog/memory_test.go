package catalog

import (
	"context"
	"errors"
	"testing"
)

func seededRepo() *MemoryRepository {
	repo := NewMemoryRepository()
	repo.Seed(
		RegisteredServer{ServerID: "SRV", OriginURL: "https://up.example", Status: "active"},
		[]Tool{{ToolID: "t1", ServerID: "SRV", Name: "myTool"}},
		map[string][]PricingEntry{
			"t1": {{ID: "p1", ToolID: "t1", Network: "base-sepolia", MaxAmountRequiredRaw: "10000", TokenDecimals: 6, Active: true}},
		},
	)
	return repo
}

func TestServerLookup(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()

	server, err := repo.GetServerByServerID(ctx, "SRV")
	if err != nil || server.OriginURL != "https://up.example" {
		t.Fatalf("server=%+v err=%v", server, err)
	}

	if _, err := repo.GetServerByServerID(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown server err = %v", err)
	}

	servers, err := repo.ListServers(ctx)
	if err != nil || len(servers) != 1 {
		t.Errorf("ListServers = %v, %v", servers, err)
	}
}

func TestToolPricingLookup(t *testing.T) {
	repo := seededRepo()

	tool, pricing, err := repo.GetToolPricing(context.Background(), "SRV", "myTool")
	if err != nil {
		t.Fatal(err)
	}
	if tool.ToolID != "t1" || len(pricing) != 1 || pricing[0].ID != "p1" {
		t.Errorf("tool=%+v pricing=%+v", tool, pricing)
	}

	if _, _, err := repo.GetToolPricing(context.Background(), "SRV", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown tool err = %v", err)
	}
}

func TestUpsertToolReplacesPricing(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()

	err := repo.UpsertTool(ctx, Tool{ServerID: "SRV", Name: "myTool"}, []PricingEntry{
		{Network: "base", MaxAmountRequiredRaw: "5000", TokenDecimals: 6, Active: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	tool, pricing, err := repo.GetToolPricing(ctx, "SRV", "myTool")
	if err != nil {
		t.Fatal(err)
	}
	if tool.ToolID != "t1" {
		t.Errorf("upsert must keep the existing tool id, got %q", tool.ToolID)
	}
	if len(pricing) != 1 || pricing[0].Network != "base" || pricing[0].ToolID != "t1" {
		t.Errorf("pricing = %+v", pricing)
	}

	if err := repo.UpsertTool(ctx, Tool{ServerID: "GHOST", Name: "x"}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("upsert on unknown server err = %v", err)
	}
}

func TestPaymentSignatureUniqueness(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()

	record := PaymentRecord{ToolID: "t1", Signature: "sig-1", Status: PaymentStatusPending}
	if err := repo.CreatePayment(ctx, record); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreatePayment(ctx, record); !errors.Is(err, ErrSignatureExists) {
		t.Errorf("duplicate signature err = %v", err)
	}

	stored, err := repo.GetPaymentBySignature(ctx, "sig-1")
	if err != nil || stored.Status != PaymentStatusPending {
		t.Errorf("stored=%+v err=%v", stored, err)
	}
}

func TestWalletUserLifecycle(t *testing.T) {
	repo := seededRepo()
	ctx := context.Background()

	created, err := repo.CreateUserWithWallet(ctx, "0xABC", "evm")
	if err != nil {
		t.Fatal(err)
	}
	found, err := repo.GetUserByWalletAddress(ctx, "0xABC")
	if err != nil || found.ID != created.ID {
		t.Errorf("found=%+v err=%v", found, err)
	}

	if err := repo.TouchUserLogin(ctx, created.ID); err != nil {
		t.Errorf("TouchUserLogin: %v", err)
	}
	touched, _ := repo.GetUserByID(ctx, created.ID)
	if touched.LastLoginAt.IsZero() {
		t.Error("last login not stamped")
	}
}

func TestWalletFiltering(t *testing.T) {
	repo := seededRepo()
	repo.SeedUser(User{ID: "u1"})
	repo.SeedWallet(Wallet{UserID: "u1", Address: "0x1", Network: "base-sepolia", Active: true})
	repo.SeedWallet(Wallet{UserID: "u1", Address: "0x2", Network: "base-sepolia", Active: false})

	active, err := repo.GetUserWallets(context.Background(), "u1", true)
	if err != nil || len(active) != 1 || active[0].Address != "0x1" {
		t.Errorf("active=%+v err=%v", active, err)
	}
	all, err := repo.GetUserWallets(context.Background(), "u1", false)
	if err != nil || len(all) != 2 {
		t.Errorf("all=%+v err=%v", all, err)
	}
}
