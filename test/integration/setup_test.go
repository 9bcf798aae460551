//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/medpractice/records/internal/domain/billing"
	"github.com/medpractice/records/internal/domain/medication"
	"github.com/medpractice/records/internal/domain/patient"
	"github.com/medpractice/records/internal/platform/db"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool          *pgxpool.Pool
	ConnStr       string
	MigrationsDir string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupPostgresContainer starts postgres:16-alpine, connects and applies
// every migration to the public schema.
func setupPostgresContainer(ctx context.Context) (*testDB, func(), error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("records"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			fmt.Fprintf(os.Stderr, "terminate postgres container: %v\n", err)
		}
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("connection string: %w", err)
	}

	pool, err := db.NewPool(ctx, connStr, "public", 10, 1)
	if err != nil {
		terminate()
		return nil, nil, err
	}

	migrationsDir := findMigrationsDir()
	if _, err := db.NewMigrator(pool, migrationsDir, "public").Up(ctx); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	tdb := &testDB{
		Pool:          pool,
		ConnStr:       connStr,
		MigrationsDir: migrationsDir,
	}
	return tdb, func() {
		pool.Close()
		terminate()
	}, nil
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	// test/integration -> module root
	return filepath.Join(dir, "..", "..", "migrations")
}

// resetTables empties every table so each test starts from a clean snapshot.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := globalDB.Pool.Exec(context.Background(), `TRUNCATE prescription, care_sheet, patient`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

type fixtures struct {
	patients      patient.Repository
	careSheets    billing.CareSheetRepository
	prescriptions medication.PrescriptionRepository
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	resetTables(t)
	return &fixtures{
		patients:      patient.NewRepo(globalDB.Pool),
		careSheets:    billing.NewCareSheetRepo(globalDB.Pool),
		prescriptions: medication.NewPrescriptionRepo(globalDB.Pool),
	}
}

func strPtr(s string) *string { return &s }

func day(s string) *time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &d
}

func (f *fixtures) createPatient(t *testing.T, last, first, externalID, birth string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{LastName: last, FirstName: first}
	if externalID != "" {
		p.ExternalID = strPtr(externalID)
	}
	if birth != "" {
		p.BirthDate = day(birth)
	}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient %s %s: %v", first, last, err)
	}
	return p
}

func (f *fixtures) createCareSheet(t *testing.T, p *patient.Patient) *billing.CareSheet {
	t.Helper()
	cs := &billing.CareSheet{PatientID: p.ID, ActDate: *day("2024-03-01"), ActCodes: "C", Amount: 25}
	if err := f.careSheets.Create(context.Background(), cs); err != nil {
		t.Fatalf("create care sheet: %v", err)
	}
	return cs
}

func (f *fixtures) createPrescription(t *testing.T, p *patient.Patient) *medication.Prescription {
	t.Helper()
	rx := &medication.Prescription{PatientID: p.ID, PrescribedOn: *day("2024-03-02"), Medication: "Paracetamol 1g"}
	if err := f.prescriptions.Create(context.Background(), rx); err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	return rx
}
