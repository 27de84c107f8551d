package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goodk/formdata-module/internal/config"
	"github.com/bigkaa/goodk/formdata-module/internal/database"
	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/query"
)

// testSurvey — схема формы для интеграционных тестов.
const testSurvey = `{
	"name": "tutorial",
	"type": "survey",
	"children": [
		{"name": "visit_date", "type": "date"},
		{"name": "age", "type": "integer"},
		{"name": "gender", "type": "select one"},
		{"name": "note", "type": "text"}
	]
}`

// setupTestPool запускает PostgreSQL, применяет миграции и возвращает пул.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("onadata_test"),
		postgres.WithUsername("onadata"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("FD_DB_HOST", host)
	t.Setenv("FD_DB_PORT", port.Port())
	t.Setenv("FD_DB_NAME", "onadata_test")
	t.Setenv("FD_DB_USER", "onadata")
	t.Setenv("FD_DB_PASSWORD", "test-password")
	t.Setenv("FD_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграции: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// seedForm создаёт форму и возвращает её ID.
func seedForm(t *testing.T, pool *pgxpool.Pool, idString, owner string, deleted bool) int64 {
	t.Helper()

	var deletedAt *time.Time
	if deleted {
		now := time.Now()
		deletedAt = &now
	}

	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO logger_xform (id_string, title, owner, json, downloadable, deleted_at)
		 VALUES ($1, $2, $3, $4::jsonb, true, $5) RETURNING id`,
		idString, "Tutorial", owner, testSurvey, deletedAt,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Ошибка создания формы: %v", err)
	}
	return id
}

// seedInstance создаёт сабмишен формы.
func seedInstance(t *testing.T, pool *pgxpool.Pool, formID int64, data string, deleted bool) {
	t.Helper()

	var deletedAt *time.Time
	if deleted {
		now := time.Now()
		deletedAt = &now
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO logger_instance (xform_id, json, deleted_at) VALUES ($1, $2::jsonb, $3)`,
		formID, data, deletedAt,
	)
	if err != nil {
		t.Fatalf("Ошибка создания сабмишена: %v", err)
	}
}

// TestFormRepository_Get проверяет поиск форм по критериям.
func TestFormRepository_Get(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	repo := NewFormRepository(pool)

	id := seedForm(t, pool, "tutorial", "bob", false)
	deletedID := seedForm(t, pool, "old_form", "bob", true)

	form, err := repo.Get(ctx, FormLookup{ID: &id})
	if err != nil {
		t.Fatalf("Get(ID) вернул ошибку: %v", err)
	}
	if form.IDString != "tutorial" || form.Owner != "bob" {
		t.Errorf("форма = %s/%s, ожидалась bob/tutorial", form.Owner, form.IDString)
	}
	if form.Survey == nil || len(form.Fields()) != 4 {
		t.Errorf("ожидалась разобранная схема с 4 полями")
	}

	if _, err := repo.Get(ctx, FormLookup{IDString: "TUTORIAL"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(TUTORIAL) err = %v, ожидалась ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, FormLookup{IDString: "TUTORIAL", IgnoreCase: true, Owner: "Bob"}); err != nil {
		t.Errorf("Get(TUTORIAL, ignore case) вернул ошибку: %v", err)
	}
	if _, err := repo.Get(ctx, FormLookup{IDString: "tutorial", Owner: "alice"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(alice) err = %v, ожидалась ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, FormLookup{ID: &deletedID}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(удалённая) err = %v, ожидалась ErrNotFound", err)
	}
}

// TestFormRepository_IsActive проверяет признак активности формы.
func TestFormRepository_IsActive(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	repo := NewFormRepository(pool)

	id := seedForm(t, pool, "tutorial", "bob", false)
	deletedID := seedForm(t, pool, "old_form", "bob", true)

	tests := map[int64]bool{
		id:        true,
		deletedID: false,
		id + 1000: false,
	}
	for formID, want := range tests {
		active, err := repo.IsActive(ctx, formID)
		if err != nil {
			t.Fatalf("IsActive(%d) вернул ошибку: %v", formID, err)
		}
		if active != want {
			t.Errorf("IsActive(%d) = %v, ожидалось %v", formID, active, want)
		}
	}

	if _, err := pool.Exec(ctx, `UPDATE logger_xform SET deleted_at = now() WHERE id = $1`, id); err != nil {
		t.Fatalf("Ошибка мягкого удаления: %v", err)
	}
	if active, err := repo.IsActive(ctx, id); err != nil || active {
		t.Errorf("IsActive(после удаления) = %v, %v, ожидалось false", active, err)
	}
}

// TestSubmissionRepository_GroupedByField проверяет подсчёт и агрегацию в БД.
func TestSubmissionRepository_GroupedByField(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()

	formID := seedForm(t, pool, "tutorial", "bob", false)
	otherID := seedForm(t, pool, "other", "bob", false)

	seedInstance(t, pool, formID, `{"gender": "male", "age": "20", "visit_date": "2024-01-05"}`, false)
	seedInstance(t, pool, formID, `{"gender": "male", "age": "30", "visit_date": "2024-01-05"}`, false)
	seedInstance(t, pool, formID, `{"gender": "female", "age": "40", "visit_date": "2024-01-06"}`, false)
	seedInstance(t, pool, formID, `{"gender": "female", "age": "100"}`, true)
	seedInstance(t, pool, otherID, `{"gender": "female", "age": "50"}`, false)

	form, err := NewFormRepository(pool).Get(ctx, FormLookup{ID: &formID})
	if err != nil {
		t.Fatalf("Get() вернул ошибку: %v", err)
	}

	repo := NewSubmissionRepository(pool, query.NewBuilder("postgres"))

	t.Run("count", func(t *testing.T) {
		rows, err := repo.GroupedByField(ctx, form, "gender", "", "")
		if err != nil {
			t.Fatalf("GroupedByField() вернул ошибку: %v", err)
		}
		counts := make(map[string]int64)
		for _, row := range rows {
			counts[row["gender"].(string)] = row["count"].(int64)
		}
		if counts["male"] != 2 || counts["female"] != 1 {
			t.Errorf("counts = %v, ожидалось male=2 female=1", counts)
		}
	})

	t.Run("date", func(t *testing.T) {
		rows, err := repo.GroupedByField(ctx, form, "visit_date", "day", "")
		if err != nil {
			t.Fatalf("GroupedByField() вернул ошибку: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("len(rows) = %d, ожидалось 2", len(rows))
		}
		for _, row := range rows {
			if _, ok := row["day"]; !ok {
				t.Errorf("строка %v без колонки day", row)
			}
		}
	})

	t.Run("submission_time", func(t *testing.T) {
		timedID := seedForm(t, pool, "timed", "bob", false)
		seedInstance(t, pool, timedID, `{"_submission_time": "2020-01-02T10:11:12"}`, false)
		seedInstance(t, pool, timedID, `{"_submission_time": "2020-01-02T23:59:59"}`, false)
		seedInstance(t, pool, timedID, `{"_submission_time": "2020-01-03T00:00:01"}`, false)

		timed, err := NewFormRepository(pool).Get(ctx, FormLookup{ID: &timedID})
		if err != nil {
			t.Fatalf("Get() вернул ошибку: %v", err)
		}

		rows, err := repo.GroupedByField(ctx, timed, model.SubmissionTime, "", "")
		if err != nil {
			t.Fatalf("GroupedByField() вернул ошибку: %v", err)
		}
		counts := make(map[string]int64)
		for _, row := range rows {
			counts[row[model.SubmissionTime].(string)] = row["count"].(int64)
		}
		if len(counts) != 2 || counts["2020-01-02"] != 2 || counts["2020-01-03"] != 1 {
			t.Errorf("counts = %v, ожидалось 2020-01-02=2 2020-01-03=1", counts)
		}
	})

	t.Run("group_by", func(t *testing.T) {
		rows, err := repo.GroupedByField(ctx, form, "age", "", "gender")
		if err != nil {
			t.Fatalf("GroupedByField() вернул ошибку: %v", err)
		}
		for _, row := range rows {
			if row["gender"] == "male" {
				if row["sum"].(float64) != 50 || row["mean"].(float64) != 25 {
					t.Errorf("male: sum=%v mean=%v, ожидалось 50 и 25", row["sum"], row["mean"])
				}
			}
		}
	})
}

// TestSubmissionRepository_FieldRecords проверяет выборку числовых значений.
func TestSubmissionRepository_FieldRecords(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()

	formID := seedForm(t, pool, "tutorial", "bob", false)
	seedInstance(t, pool, formID, `{"age": "20", "note": "x"}`, false)
	seedInstance(t, pool, formID, `{"age": "22.5", "note": "y"}`, false)
	seedInstance(t, pool, formID, `{"note": "без возраста"}`, false)
	seedInstance(t, pool, formID, `{"age": "99"}`, true)

	form := &model.XForm{ID: formID}
	repo := NewSubmissionRepository(pool, query.NewBuilder("postgres"))

	values, err := repo.FieldRecords(ctx, form, "age")
	if err != nil {
		t.Fatalf("FieldRecords() вернул ошибку: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("values = %v, ожидалось 2 значения", values)
	}
	if values[0]+values[1] != 42.5 {
		t.Errorf("сумма = %v, ожидалось 42.5", values[0]+values[1])
	}

	if _, err := repo.FieldRecords(ctx, form, "note"); err == nil {
		t.Error("ожидалась ошибка для нечислового поля")
	}
}

// TestSubmissionRepository_Unsupported проверяет ошибку построителя без обращения к БД.
func TestSubmissionRepository_Unsupported(t *testing.T) {
	repo := NewSubmissionRepository(nil, query.NewBuilder("sqlite"))
	form := &model.XForm{ID: 1}

	if _, err := repo.FieldRecords(context.Background(), form, "age"); !errors.Is(err, query.ErrUnsupportedDatabase) {
		t.Errorf("FieldRecords() err = %v, ожидалась ErrUnsupportedDatabase", err)
	}
	if _, err := repo.GroupedByField(context.Background(), form, "age", "", ""); !errors.Is(err, query.ErrUnsupportedDatabase) {
		t.Errorf("GroupedByField() err = %v, ожидалась ErrUnsupportedDatabase", err)
	}
}
