package retry

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

// SQLStore keeps retry records in the onboarding_retries table. Every call runs
// its own statement, so it is safe to use after a builder transaction rolled back.
type SQLStore struct {
	store *sqlite.SqlStore
	log   *zap.Logger
	clock clock.Clock
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(store *sqlite.SqlStore, log *zap.Logger) *SQLStore {
	return &SQLStore{
		store: store,
		log:   log,
		clock: clock.New(),
	}
}

type row struct {
	ExternalID       string    `db:"external_id"`
	Email            string    `db:"email"`
	Payload          string    `db:"payload"`
	FailureKind      string    `db:"failure_kind"`
	FailureStep      string    `db:"failure_step"`
	FailureReason    string    `db:"failure_reason"`
	OrganizationCode string    `db:"organization_code"`
	Attempts         int       `db:"attempts"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (s *SQLStore) Put(ctx context.Context, r *Record) error {
	externalID, email := NormalizeKey(r.ExternalID, r.Email)
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()

	query, args, err := sq.Insert("onboarding_retries").
		Columns("external_id", "email", "payload", "failure_kind", "failure_step", "failure_reason", "organization_code", "attempts", "created_at", "updated_at").
		Values(externalID, email, string(payload), string(r.Kind), r.Step, r.Reason, r.OrganizationCode, 1, now, now).
		Suffix(`ON CONFLICT (external_id, email) DO UPDATE SET
			payload = excluded.payload,
			failure_kind = excluded.failure_kind,
			failure_step = excluded.failure_step,
			failure_reason = excluded.failure_reason,
			organization_code = CASE WHEN excluded.organization_code = '' THEN onboarding_retries.organization_code ELSE excluded.organization_code END,
			attempts = onboarding_retries.attempts + 1,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	if _, err := s.store.DB.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	s.log.Debug("Stored onboarding retry state",
		zap.String("external_id", externalID),
		zap.String("email", email),
		zap.String("failure_kind", string(r.Kind)))
	return nil
}

func (s *SQLStore) Get(ctx context.Context, externalID, email string) (*Record, error) {
	externalID, email = NormalizeKey(externalID, email)
	query, args, err := sq.Select("*").
		From("onboarding_retries").
		Where(sq.Eq{"external_id": externalID, "email": email}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rw row
	if err := s.store.DB.GetContext(ctx, &rw, query, args...); err != nil {
		if sqlite.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	rec := &Record{
		ExternalID:       rw.ExternalID,
		Email:            rw.Email,
		Kind:             onboarding.Kind(rw.FailureKind),
		Step:             rw.FailureStep,
		Reason:           rw.FailureReason,
		OrganizationCode: rw.OrganizationCode,
		Attempts:         rw.Attempts,
		CreatedAt:        rw.CreatedAt,
		UpdatedAt:        rw.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rw.Payload), &rec.Payload); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) Delete(ctx context.Context, externalID, email string) error {
	externalID, email = NormalizeKey(externalID, email)
	query, args, err := sq.Delete("onboarding_retries").
		Where(sq.Eq{"external_id": externalID, "email": email}).
		ToSql()
	if err != nil {
		return err
	}

	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	_, err = s.store.DB.ExecContext(ctx, query, args...)
	return err
}
