package availability

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed availability repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const windowCols = `id, doctor_id, weekday, start_time, end_time, created_at`

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	err := row.Scan(&w.ID, &w.DoctorID, &w.Weekday, &w.StartTime, &w.EndTime, &w.CreatedAt)
	return &w, err
}

func (r *repoPG) Create(ctx context.Context, w *Window) error {
	w.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_availability (id, doctor_id, weekday, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5)`,
		w.ID, w.DoctorID, w.Weekday, w.StartTime, w.EndTime)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Window, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+windowCols+` FROM doctor_availability
		WHERE doctor_id = $1 ORDER BY weekday, start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWindows(rows)
}

func (r *repoPG) ListByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*Window, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+windowCols+` FROM doctor_availability
		WHERE doctor_id = $1 AND weekday = $2 ORDER BY start_time`, doctorID, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWindows(rows)
}

func collectWindows(rows pgx.Rows) ([]*Window, error) {
	var items []*Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// MemoryRepo is an in-memory Repository for development and tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	windows map[uuid.UUID]*Window
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{windows: make(map[uuid.UUID]*Window)}
}

func (r *MemoryRepo) Create(_ context.Context, w *Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.ID = uuid.New()
	cp := *w
	r.windows[w.ID] = &cp
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[id]; !ok {
		return ErrWindowNotFound
	}
	delete(r.windows, id)
	return nil
}

func (r *MemoryRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Window
	for _, w := range r.windows {
		if w.DoctorID == doctorID {
			cp := *w
			items = append(items, &cp)
		}
	}
	sortWindows(items)
	return items, nil
}

func (r *MemoryRepo) ListByDoctorWeekday(_ context.Context, doctorID uuid.UUID, weekday int) ([]*Window, error) {
	all, err := r.ListByDoctor(context.Background(), doctorID)
	if err != nil {
		return nil, err
	}
	var items []*Window
	for _, w := range all {
		if w.Weekday == weekday {
			items = append(items, w)
		}
	}
	return items, nil
}

func sortWindows(items []*Window) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Weekday != items[j].Weekday {
			return items[i].Weekday < items[j].Weekday
		}
		return items[i].StartTime < items[j].StartTime
	})
}
