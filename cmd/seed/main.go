package main

import (
	"context"
	"errors"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/logging"
	"github.com/hackgods/clinic-appointments/internal/session"
)

const (
	doctorCount  = 12
	patientCount = 200
	seedDays     = 5
	// Every seeded account shares this password.
	seedPassword = "password123"
)

// Daily clinic hours in UTC, as [start, end) hour pairs.
var clinicHours = [][2]int{{9, 12}, {14, 17}}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, poolOptions(cfg))
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, logger)
	if err != nil {
		logger.Fatal("migrator setup error", zap.Error(err))
	}
	if err := migrator.Up(context.Background()); err != nil {
		logger.Fatal("migration error", zap.Error(err))
	}
	_ = migrator.Close()

	gw := gateway.NewPgStore(pool)
	sessions := session.NewManager(gw, session.NoRevocation{}, session.NewBroker(), cfg.JWTSecret, cfg.SessionTTL, logger)

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	bg := context.Background()

	if _, err := createUser(bg, sessions, session.SignUpRequest{
		Email:    "admin@clinic.local",
		Password: seedPassword,
		Role:     string(session.RoleAdmin),
		FullName: "Clinic Admin",
	}); err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}

	doctors, err := seedDoctors(bg, sessions, faker, doctorCount)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	logger.Info("doctors seeded", zap.Int("count", len(doctors)))

	if err := seedAvailability(bg, gw, doctors, time.Now().UTC()); err != nil {
		logger.Fatal("seed availability", zap.Error(err))
	}
	logger.Info("availability seeded", zap.Int("days", seedDays))

	patients, err := seedPatients(bg, sessions, faker, patientCount)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	logger.Info("patients seeded", zap.Int("count", patients))

	logger.Info("seed complete", zap.String("password", seedPassword))
}

// createUser treats an existing account as already seeded.
func createUser(ctx context.Context, sessions *session.Manager, req session.SignUpRequest) (bool, error) {
	_, err := sessions.CreateUser(ctx, req)
	if errors.Is(err, session.ErrEmailTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func seedDoctors(ctx context.Context, sessions *session.Manager, faker *gofakeit.Faker, count int) ([]session.User, error) {
	doctors := make([]session.User, 0, count)
	for i := 0; i < count; i++ {
		u, err := sessions.CreateUser(ctx, session.SignUpRequest{
			Email:              faker.Email(),
			Password:           seedPassword,
			Role:               string(session.RoleDoctor),
			FullName:           "Dr. " + faker.Name(),
			RegistrationNumber: faker.Numerify("MMC-#####"),
		})
		if errors.Is(err, session.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, u)
	}
	return doctors, nil
}

func seedPatients(ctx context.Context, sessions *session.Manager, faker *gofakeit.Faker, count int) (int, error) {
	created := 0
	for i := 0; i < count; i++ {
		ok, err := createUser(ctx, sessions, session.SignUpRequest{
			Email:    faker.Email(),
			Password: seedPassword,
			Role:     string(session.RolePatient),
			FullName: faker.Name(),
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// seedAvailability opens clinic hours for every doctor on the next weekdays.
func seedAvailability(ctx context.Context, gw gateway.Gateway, doctors []session.User, now time.Time) error {
	day := now.Truncate(24 * time.Hour)

	for _, d := range doctors {
		da := appointment.DoctorAvailability{DoctorUID: d.UID}

		for added, offset := 0, 1; added < seedDays; offset++ {
			date := day.AddDate(0, 0, offset)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			for _, h := range clinicHours {
				da.Blocks = append(da.Blocks, appointment.AvailabilityBlock{
					DoctorUID:  d.UID,
					DoctorName: d.FullName,
					Start:      appointment.MillisFromTime(date.Add(time.Duration(h[0]) * time.Hour)),
					End:        appointment.MillisFromTime(date.Add(time.Duration(h[1]) * time.Hour)),
				})
			}
			added++
		}

		if err := appointment.PutAvailability(ctx, gw, da); err != nil {
			return err
		}
	}
	return nil
}

func poolOptions(cfg config.Config) db.PoolOptions {
	return db.PoolOptions{
		AppName:  "clinic-seed",
		MaxConns: int32(cfg.PostgresMaxConns),
		MinConns: int32(cfg.PostgresMinConns),
	}
}
