package integration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizroom/internal/app"
	"quizroom/internal/domain"
	"quizroom/internal/infra/memory"
	"quizroom/internal/infra/postgres"
	pgmigrations "quizroom/internal/infra/postgres/migrations"
	infraredis "quizroom/internal/infra/redis"
	"quizroom/internal/integrity"
)

func TestRoomEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store, err := infraredis.NewStore(ctx, redisClient, infraredis.Options{Block: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	sink := postgres.NewAuditSink(pool)
	roles := postgres.NewRoleDirectory(pool)
	if err := roles.Grant(ctx, "admin-1", postgres.RoleAdmin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}

	engine := app.NewEngine(app.EngineDeps{
		Store:     store,
		Questions: memory.NewQuestionCache(store, time.Minute),
		Sink:      sink,
		Roles:     roles,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, app.EngineConfig{Workers: 2})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = engine.Reactor.Run(runCtx) }()

	room, err := engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: []domain.Question{
		{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
		{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0},
	}})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, u := range []string{"u1", "u2"} {
		if _, err := engine.Rooms.Join(ctx, room.ID, u, "name-"+u); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	if _, err := engine.Lifecycle.Start(ctx, room.ID, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	submit(t, engine, room.ID, "u1", 0, 1)
	eventually(t, func() bool {
		p, err := store.GetPlayer(ctx, room.ID, "u1")
		return err == nil && p.Score == app.DefaultAnswerPoints
	}, "u1 scored")

	// Resubmitting inside the spam window is rejected and paged.
	submit(t, engine, room.ID, "u1", 0, 2)
	eventually(t, func() bool {
		n, err := sink.CountSecurityLogs(ctx, domain.SecurityAnswerSpamDetected)
		return err == nil && n == 1
	}, "spam logged")

	// Forged digest: payload does not match what the client hashed.
	forged := integrity.DigestAt(integrity.Tuple{RoomID: room.ID, UserID: "u2", QuestionIndex: 0, AnswerIndex: 0}, time.Now())
	if _, err := engine.Rooms.SubmitAnswer(ctx, room.ID, "u2", 0, 1, forged); err != nil {
		t.Fatalf("submit forged: %v", err)
	}
	eventually(t, func() bool {
		n, err := sink.CountSecurityLogs(ctx, domain.SecurityAnswerValidationError)
		return err == nil && n == 1
	}, "forged digest logged")

	if _, err := engine.Lifecycle.EmergencyShutdown(ctx, room.ID, "u2", "abuse"); err == nil {
		t.Fatalf("expected non-admin shutdown to fail")
	}
	if _, err := engine.Lifecycle.EmergencyShutdown(ctx, room.ID, "admin-1", "abuse"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	final, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if final.State() != domain.StateEmergencyShutdown {
		t.Fatalf("expected emergency shutdown, got %s", final.State())
	}
	stats, err := sink.UserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if stats.GamesPlayed != 1 || stats.TotalScore != int64(app.DefaultAnswerPoints) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	alerts, err := sink.PendingAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("pending alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected spam and shutdown alerts, got %+v", alerts)
	}
}

func submit(t *testing.T, engine *app.Engine, roomID, userID string, questionIndex, answerIndex int) {
	t.Helper()
	digest := integrity.DigestAt(integrity.Tuple{
		RoomID:        roomID,
		UserID:        userID,
		QuestionIndex: questionIndex,
		AnswerIndex:   answerIndex,
	}, time.Now())
	if _, err := engine.Rooms.SubmitAnswer(context.Background(), roomID, userID, questionIndex, answerIndex, digest); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
