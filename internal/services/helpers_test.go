package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/repo"
)

// ---------- test helpers ----------

var (
	planner = domain.User{ID: "u-plan", FullName: "Nadia Planner", Role: domain.RolePlanificateur}
	cashier = domain.User{ID: "u-cash", FullName: "Omar Caissier", Role: domain.RoleCaissier, EmployeeType: domain.EmployeeInternal}
)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedChauffeur(t *testing.T, db *gorm.DB, first, last, employeeType string) *domain.Chauffeur {
	t.Helper()
	c := &domain.Chauffeur{FirstName: first, LastName: last, EmployeeType: employeeType, IsActive: true}
	if err := repo.CreateChauffeur(context.Background(), db, c); err != nil {
		t.Fatalf("seed chauffeur: %v", err)
	}
	return c
}

func seedCompany(t *testing.T, db *gorm.DB, name string) *domain.Company {
	t.Helper()
	c, err := repo.CreateCompany(context.Background(), db, name)
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return c
}

func seedPayment(t *testing.T, db *gorm.DB, ref *domain.ProgramRef, status domain.PaymentStatus, mut ...func(*domain.Payment)) *domain.Payment {
	t.Helper()
	p := &domain.Payment{
		PhotoURL:  "https://cdn.example/receipt.jpg",
		Status:    status,
		Montant:   decimal.Zero,
		CreatedBy: "u-seed",
	}
	p.SetRef(ref)
	for _, m := range mut {
		m(p)
	}
	if err := repo.CreatePayment(context.Background(), db, p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func refPtr(r domain.ProgramRef) *domain.ProgramRef { return &r }

func traceActions(entries []domain.TraceEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func countDeclarations(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	n, err := repo.CountDeclarations(context.Background(), db, repo.DeclarationFilter{})
	if err != nil {
		t.Fatalf("count declarations: %v", err)
	}
	return n
}
