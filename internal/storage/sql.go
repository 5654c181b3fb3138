package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/callscope/internal/models"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// sqliteTimeLayout is fixed width so that text comparison orders like time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// sqlStore holds the queries shared by the Postgres and SQLite backends. Queries are
// written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) timeArg(t time.Time) any {
	t = t.UTC()
	if s.dialect == dialectSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (s *sqlStore) nullTimeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return s.timeArg(t)
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

const upsertCallSQL = `
	INSERT INTO calls (call_id, caller_number, direction, duration_seconds, transcript, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (call_id) DO UPDATE SET
		caller_number = excluded.caller_number,
		direction = excluded.direction,
		duration_seconds = excluded.duration_seconds,
		transcript = excluded.transcript,
		occurred_at = excluded.occurred_at`

func (s *sqlStore) SaveCall(ctx context.Context, call models.CallRecord) error {
	if call.CallID == "" {
		return fmt.Errorf("save call: empty call id")
	}
	_, err := s.exec(ctx, upsertCallSQL,
		call.CallID,
		call.CallerNumber,
		string(call.Direction),
		call.DurationSeconds,
		call.Transcript,
		s.timeArg(call.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("save call %s: %w", call.CallID, err)
	}
	return nil
}

func (s *sqlStore) GetCall(ctx context.Context, callID string) (*models.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT call_id, caller_number, direction, duration_seconds, transcript, occurred_at
		FROM calls WHERE call_id = ?`), callID)

	var (
		call       models.CallRecord
		direction  string
		occurredAt dbTime
	)
	err := row.Scan(&call.CallID, &call.CallerNumber, &direction, &call.DurationSeconds, &call.Transcript, &occurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", callID, err)
	}
	call.Direction = models.ParseDirection(direction)
	call.OccurredAt = occurredAt.Time
	return &call, nil
}

const upsertClassificationSQL = `
	INSERT INTO call_classifications (
		call_id, category, intent, sentiment, service_detail, customer_need,
		confidence, needs_review, classifier_version, model, classified_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (call_id) DO UPDATE SET
		category = excluded.category,
		intent = excluded.intent,
		sentiment = excluded.sentiment,
		service_detail = excluded.service_detail,
		customer_need = excluded.customer_need,
		confidence = excluded.confidence,
		needs_review = excluded.needs_review,
		classifier_version = excluded.classifier_version,
		model = excluded.model,
		classified_at = excluded.classified_at`

func (s *sqlStore) SaveClassification(ctx context.Context, res models.ClassificationResult) error {
	if res.CallID == "" {
		return fmt.Errorf("save classification: empty call id")
	}
	res = normalizeClassification(res)
	_, err := s.exec(ctx, upsertClassificationSQL,
		res.CallID,
		string(res.Category),
		string(res.Intent),
		string(res.Sentiment),
		res.ServiceDetail,
		res.CustomerNeed,
		res.Confidence,
		res.NeedsReview,
		res.ClassifierVersion,
		res.Model,
		s.timeArg(res.ClassifiedAt),
	)
	if err != nil {
		return fmt.Errorf("save classification %s: %w", res.CallID, err)
	}
	return nil
}

func (s *sqlStore) GetClassification(ctx context.Context, callID string) (*models.ClassificationResult, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT call_id, category, intent, sentiment, service_detail, customer_need,
			confidence, needs_review, classifier_version, model, classified_at
		FROM call_classifications WHERE call_id = ?`), callID)

	var (
		res                         models.ClassificationResult
		category, intent, sentiment string
		classifiedAt                dbTime
	)
	err := row.Scan(&res.CallID, &category, &intent, &sentiment, &res.ServiceDetail, &res.CustomerNeed,
		&res.Confidence, &res.NeedsReview, &res.ClassifierVersion, &res.Model, &classifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get classification %s: %w", callID, err)
	}
	res.Category = models.Category(category)
	res.Intent = models.Intent(intent)
	res.Sentiment = models.Sentiment(sentiment)
	res.ClassifiedAt = classifiedAt.Time
	return &res, nil
}

const callsInRangeSQL = `
	SELECT c.call_id, c.caller_number, c.direction, c.duration_seconds, c.transcript, c.occurred_at,
		a.call_id, a.category, a.intent, a.sentiment, a.service_detail, a.customer_need,
		a.confidence, a.needs_review, a.classifier_version, a.model, a.classified_at,
		v.call_id, v.validated, v.matched_external_id, v.checked_at, v.run_id
	FROM calls c
	LEFT JOIN call_classifications a ON a.call_id = c.call_id
	LEFT JOIN validation_outcomes v ON v.call_id = c.call_id
	WHERE c.occurred_at >= ? AND c.occurred_at < ?
	ORDER BY c.occurred_at, c.call_id`

func (s *sqlStore) CallsInRange(ctx context.Context, from, to time.Time) ([]models.CallView, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(callsInRangeSQL), s.timeArg(from), s.timeArg(to))
	if err != nil {
		return nil, fmt.Errorf("query calls in range: %w", err)
	}
	defer rows.Close()

	views := make([]models.CallView, 0)
	for rows.Next() {
		var (
			call       models.CallRecord
			direction  string
			occurredAt dbTime

			aID, aCategory, aIntent, aSentiment sql.NullString
			aDetail, aNeed, aVersion, aModel    sql.NullString
			aConfidence                         sql.NullFloat64
			aReview                             sql.NullBool
			aAt                                 dbTime

			vID, vMatched, vRun sql.NullString
			vValidated          sql.NullBool
			vAt                 dbTime
		)
		if err := rows.Scan(
			&call.CallID, &call.CallerNumber, &direction, &call.DurationSeconds, &call.Transcript, &occurredAt,
			&aID, &aCategory, &aIntent, &aSentiment, &aDetail, &aNeed,
			&aConfidence, &aReview, &aVersion, &aModel, &aAt,
			&vID, &vValidated, &vMatched, &vAt, &vRun,
		); err != nil {
			return nil, fmt.Errorf("scan call view: %w", err)
		}
		call.Direction = models.ParseDirection(direction)
		call.OccurredAt = occurredAt.Time

		view := models.CallView{Call: call}
		if aID.Valid {
			view.Classification = &models.ClassificationResult{
				CallID:            aID.String,
				Category:          models.Category(aCategory.String),
				Intent:            models.Intent(aIntent.String),
				Sentiment:         models.Sentiment(aSentiment.String),
				ServiceDetail:     aDetail.String,
				CustomerNeed:      aNeed.String,
				Confidence:        aConfidence.Float64,
				NeedsReview:       aReview.Bool,
				ClassifierVersion: aVersion.String,
				Model:             aModel.String,
				ClassifiedAt:      aAt.Time,
			}
		}
		if vID.Valid {
			out := &models.ValidationOutcome{
				CallID:            vID.String,
				MatchedExternalID: vMatched.String,
				CheckedAt:         vAt.Time,
				RunID:             vRun.String,
			}
			if vValidated.Valid {
				v := vValidated.Bool
				out.Validated = &v
			}
			view.Outcome = out
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call views: %w", err)
	}
	return views, nil
}

const insertValidationSQL = `
	INSERT INTO validation_outcomes (call_id, validated, matched_external_id, checked_at, run_id)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (call_id) DO NOTHING`

func (s *sqlStore) RecordValidation(ctx context.Context, outcome models.ValidationOutcome) (bool, error) {
	if outcome.Validated == nil {
		return false, ErrUnchecked
	}
	result, err := s.exec(ctx, insertValidationSQL,
		outcome.CallID,
		*outcome.Validated,
		outcome.MatchedExternalID,
		s.nullTimeArg(outcome.CheckedAt),
		outcome.RunID,
	)
	if err != nil {
		return false, fmt.Errorf("record validation %s: %w", outcome.CallID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record validation %s: %w", outcome.CallID, err)
	}
	return n == 1, nil
}

func (s *sqlStore) GetValidation(ctx context.Context, callID string) (*models.ValidationOutcome, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT call_id, validated, matched_external_id, checked_at, run_id
		FROM validation_outcomes WHERE call_id = ?`), callID)

	var (
		out       models.ValidationOutcome
		validated sql.NullBool
		checkedAt dbTime
	)
	err := row.Scan(&out.CallID, &validated, &out.MatchedExternalID, &checkedAt, &out.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get validation %s: %w", callID, err)
	}
	if validated.Valid {
		v := validated.Bool
		out.Validated = &v
	}
	out.CheckedAt = checkedAt.Time
	return &out, nil
}

func (s *sqlStore) ResetValidation(ctx context.Context, callID string) error {
	result, err := s.exec(ctx, `DELETE FROM validation_outcomes WHERE call_id = ?`, callID)
	if err != nil {
		return fmt.Errorf("reset validation %s: %w", callID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset validation %s: %w", callID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// dbTime scans timestamps from either backend: time.Time from Postgres, fixed-width
// text from SQLite. NULL leaves the zero time.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var dbTimeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case int64:
		t.Time, t.Valid = time.Unix(v, 0).UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported time value %T", value)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}
