package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/cadencehq/cadence/internal/models"
)

// SQLiteStore is the durable store. Nested documents (answers, analysis,
// assignment history, contact stats) live in JSON columns; timestamps are
// unix milliseconds so range predicates stay cheap.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS surveys (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			questions_json TEXT,
			schedule_json TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS survey_invites (
			id TEXT PRIMARY KEY,
			survey_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			user_id TEXT,
			contact_json TEXT,
			token_digest TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			opened_at INTEGER,
			responded_at INTEGER,
			expires_at INTEGER NOT NULL,
			max_attempts INTEGER NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			survey_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			invite_id TEXT,
			contact_id TEXT,
			answers_json TEXT NOT NULL,
			review TEXT,
			rating INTEGER,
			score INTEGER,
			is_anonymous INTEGER NOT NULL DEFAULT 0,
			email TEXT,
			ip TEXT,
			metadata_json TEXT,
			completion_time INTEGER,
			started_at INTEGER,
			submitted_at INTEGER NOT NULL,
			analysis_json TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_responses_invite
			ON responses(invite_id) WHERE invite_id IS NOT NULL AND invite_id != ''`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT,
			email TEXT NOT NULL COLLATE NOCASE,
			phone TEXT,
			tags_json TEXT,
			auto_tags_json TEXT,
			category_ids_json TEXT,
			status TEXT,
			city TEXT,
			country TEXT,
			company TEXT,
			company_size TEXT,
			last_activity INTEGER,
			survey_stats_json TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			UNIQUE(tenant_id, email)
		)`,
		`CREATE TABLE IF NOT EXISTS assignment_rules (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			conditions_json TEXT,
			assignment_json TEXT NOT NULL,
			priority_override TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_assigned_index INTEGER NOT NULL DEFAULT -1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			category TEXT,
			tags_json TEXT,
			feedback_id TEXT,
			response_id TEXT,
			assigned_to TEXT,
			assigned_to_team TEXT,
			auto_assigned INTEGER NOT NULL DEFAULT 0,
			history_json TEXT,
			due_date INTEGER NOT NULL,
			sla_json TEXT NOT NULL,
			completed_at INTEGER,
			completed_by TEXT,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			created_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_tenant_status ON actions(tenant_id, is_deleted, status)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_tenant_due ON actions(tenant_id, due_date)`,
		`CREATE TABLE IF NOT EXISTS recognitions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			response_id TEXT NOT NULL,
			themes_json TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			type TEXT NOT NULL,
			category TEXT NOT NULL,
			count INTEGER NOT NULL,
			threshold INTEGER NOT NULL,
			period TEXT,
			severity TEXT NOT NULL,
			message TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			filters_json TEXT NOT NULL,
			is_system INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			email TEXT NOT NULL,
			name TEXT,
			role TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload BLOB,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			next_run_at INTEGER NOT NULL,
			last_error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			original_job_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB,
			error_message TEXT,
			failed_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// --- helpers ---

func isConstraintErr(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON[T any](ns sql.NullString, dst *T) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return
	}
	_ = json.Unmarshal([]byte(ns.String), dst)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromMillis(ns.Int64)
	return &t
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func fromNullInt(ns sql.NullInt64) *int {
	if !ns.Valid {
		return nil
	}
	v := int(ns.Int64)
	return &v
}

// --- Surveys ---

func (s *SQLiteStore) InsertSurvey(sv *models.Survey) error {
	questions, err := encodeJSON(sv.Questions)
	if err != nil {
		return err
	}
	schedule, err := encodeJSON(sv.Schedule)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO surveys (id, tenant_id, title, status, questions_json, schedule_json, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sv.ID, sv.TenantID, sv.Title, sv.Status, questions, schedule, boolToInt64(sv.Deleted), toMillis(sv.CreatedAt))
	if isConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) GetSurvey(id string) (*models.Survey, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, title, status, questions_json, schedule_json, deleted, created_at
		FROM surveys WHERE id = ?`, id)
	var sv models.Survey
	var questions, schedule sql.NullString
	var deleted, created int64
	if err := row.Scan(&sv.ID, &sv.TenantID, &sv.Title, &sv.Status, &questions, &schedule, &deleted, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	decodeJSON(questions, &sv.Questions)
	decodeJSON(schedule, &sv.Schedule)
	sv.Deleted = int64ToBool(deleted)
	sv.CreatedAt = fromMillis(created)
	return &sv, nil
}

// --- Invites ---

func (s *SQLiteStore) InsertInvite(inv *models.SurveyInvite) error {
	contact, err := encodeJSON(inv.Contact)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO survey_invites
		(id, survey_id, tenant_id, user_id, contact_json, token_digest, status, opened_at, responded_at, expires_at, max_attempts, attempt_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SurveyID, inv.TenantID, toNullString(inv.UserID), contact, inv.TokenDigest, inv.Status,
		toNullMillis(inv.OpenedAt), toNullMillis(inv.RespondedAt), toMillis(inv.ExpiresAt),
		inv.MaxAttempts, inv.AttemptCount, toMillis(inv.CreatedAt))
	if isConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteStore) scanInvite(row *sql.Row) (*models.SurveyInvite, error) {
	var inv models.SurveyInvite
	var userID, contact sql.NullString
	var opened, responded sql.NullInt64
	var expires, created int64
	if err := row.Scan(&inv.ID, &inv.SurveyID, &inv.TenantID, &userID, &contact, &inv.TokenDigest,
		&inv.Status, &opened, &responded, &expires, &inv.MaxAttempts, &inv.AttemptCount, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	inv.UserID = userID.String
	if contact.Valid {
		var c models.InviteContact
		decodeJSON(contact, &c)
		inv.Contact = &c
	}
	inv.OpenedAt = fromNullMillis(opened)
	inv.RespondedAt = fromNullMillis(responded)
	inv.ExpiresAt = fromMillis(expires)
	inv.CreatedAt = fromMillis(created)
	return &inv, nil
}

const inviteCols = `id, survey_id, tenant_id, user_id, contact_json, token_digest, status, opened_at, responded_at, expires_at, max_attempts, attempt_count, created_at`

func (s *SQLiteStore) GetInviteByDigest(digest string) (*models.SurveyInvite, error) {
	row := s.db.QueryRow(`SELECT `+inviteCols+` FROM survey_invites WHERE token_digest = ?`, digest)
	return s.scanInvite(row)
}

func (s *SQLiteStore) MarkInviteOpened(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE survey_invites SET status = ?, opened_at = ?
		WHERE id = ? AND status = ?`, models.InviteOpened, toMillis(at), id, models.InviteSent)
	if err != nil {
		return err
	}
	// Re-opening an already opened invite is a no-op, not an error.
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.inviteExists(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) inviteExists(id string) (bool, error) {
	var one int
	if err := s.db.QueryRow(`SELECT 1 FROM survey_invites WHERE id = ?`, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) MarkInviteResponded(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE survey_invites SET status = ?, responded_at = ?
		WHERE id = ? AND status != ?`, models.InviteResponded, toMillis(at), id, models.InviteResponded)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.inviteExists(id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) IncrementInviteAttempts(id string) error {
	res, err := s.db.Exec(`UPDATE survey_invites SET attempt_count = attempt_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Responses ---

const responseCols = `id, survey_id, tenant_id, invite_id, contact_id, answers_json, review, rating, score, is_anonymous, email, ip, metadata_json, completion_time, started_at, submitted_at, analysis_json`

func (s *SQLiteStore) InsertResponse(r *models.Response) error {
	answers, err := encodeJSON(r.Answers)
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(r.Metadata)
	if err != nil {
		return err
	}
	analysis, err := encodeJSON(r.Analysis)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO responses (`+responseCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SurveyID, r.TenantID, toNullString(r.InviteID), toNullString(r.ContactID),
		answers.String, toNullString(r.Review), toNullInt(r.Rating), toNullInt(r.Score),
		boolToInt64(r.IsAnonymous), toNullString(r.Email), toNullString(r.IP), metadata,
		toNullInt(r.CompletionTime), toNullMillis(r.StartedAt), toMillis(r.SubmittedAt), analysis)
	if isConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanResponse(row rowScanner) (*models.Response, error) {
	var r models.Response
	var inviteID, contactID, review, email, ip, metadata, analysis sql.NullString
	var rating, score, completion, started sql.NullInt64
	var anonymous, submitted int64
	var answers string
	if err := row.Scan(&r.ID, &r.SurveyID, &r.TenantID, &inviteID, &contactID, &answers, &review,
		&rating, &score, &anonymous, &email, &ip, &metadata, &completion, &started, &submitted, &analysis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.InviteID = inviteID.String
	r.ContactID = contactID.String
	_ = json.Unmarshal([]byte(answers), &r.Answers)
	r.Review = review.String
	r.Rating = fromNullInt(rating)
	r.Score = fromNullInt(score)
	r.IsAnonymous = int64ToBool(anonymous)
	r.Email = email.String
	r.IP = ip.String
	decodeJSON(metadata, &r.Metadata)
	r.CompletionTime = fromNullInt(completion)
	r.StartedAt = fromNullMillis(started)
	r.SubmittedAt = fromMillis(submitted)
	if analysis.Valid {
		var a models.Analysis
		decodeJSON(analysis, &a)
		r.Analysis = &a
	}
	return &r, nil
}

func (s *SQLiteStore) GetResponse(id string) (*models.Response, error) {
	row := s.db.QueryRow(`SELECT `+responseCols+` FROM responses WHERE id = ?`, id)
	return scanResponse(row)
}

func (s *SQLiteStore) ListResponsesByIDs(tenantID string, ids []string) ([]*models.Response, error) {
	if len(ids) == 0 {
		return []*models.Response{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.Query(`SELECT `+responseCols+` FROM responses WHERE tenant_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResponses(rows)
}

func (s *SQLiteStore) ListResponsesByEmail(tenantID, email string) ([]*models.Response, error) {
	rows, err := s.db.Query(`SELECT `+responseCols+` FROM responses
		WHERE tenant_id = ? AND email = ? COLLATE NOCASE ORDER BY submitted_at ASC`, tenantID, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResponses(rows)
}

func collectResponses(rows *sql.Rows) ([]*models.Response, error) {
	out := []*models.Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetResponseAnalysis(id string, a *models.Analysis) (bool, error) {
	blob, err := encodeJSON(a)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(`UPDATE responses SET analysis_json = ? WHERE id = ? AND analysis_json IS NULL`, blob, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var one int
		if err := s.db.QueryRow(`SELECT 1 FROM responses WHERE id = ?`, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, ErrNotFound
			}
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// --- Contacts ---

const contactCols = `id, tenant_id, name, email, phone, tags_json, auto_tags_json, category_ids_json, status, city, country, company, company_size, last_activity, survey_stats_json, created_at`

func (s *SQLiteStore) InsertContact(c *models.Contact) error {
	tags, err := encodeJSON(c.Tags)
	if err != nil {
		return err
	}
	autoTags, err := encodeJSON(c.AutoTags)
	if err != nil {
		return err
	}
	cats, err := encodeJSON(c.CategoryIDs)
	if err != nil {
		return err
	}
	stats, err := json.Marshal(c.SurveyStats)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO contacts (`+contactCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, toNullString(c.Name), c.Email, toNullString(c.Phone), tags, autoTags, cats,
		toNullString(c.Status), toNullString(c.City), toNullString(c.Country), toNullString(c.Company),
		toNullString(c.CompanySize), toNullMillis(c.LastActivity), string(stats), toMillis(c.CreatedAt))
	if isConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var c models.Contact
	var name, phone, tags, autoTags, cats, status, city, country, company, companySize sql.NullString
	var lastActivity sql.NullInt64
	var stats string
	var created int64
	if err := row.Scan(&c.ID, &c.TenantID, &name, &c.Email, &phone, &tags, &autoTags, &cats,
		&status, &city, &country, &company, &companySize, &lastActivity, &stats, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Name = name.String
	c.Phone = phone.String
	decodeJSON(tags, &c.Tags)
	decodeJSON(autoTags, &c.AutoTags)
	decodeJSON(cats, &c.CategoryIDs)
	c.Status = status.String
	c.City = city.String
	c.Country = country.String
	c.Company = company.String
	c.CompanySize = companySize.String
	c.LastActivity = fromNullMillis(lastActivity)
	_ = json.Unmarshal([]byte(stats), &c.SurveyStats)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func (s *SQLiteStore) GetContact(tenantID, id string) (*models.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactCols+` FROM contacts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanContact(row)
}

func (s *SQLiteStore) GetContactByEmail(tenantID, email string) (*models.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactCols+` FROM contacts WHERE tenant_id = ? AND email = ?`, tenantID, email)
	return scanContact(row)
}

func (s *SQLiteStore) UpdateContactStats(tenantID, contactID string, stats models.ContactSurveyStats, lastActivity *time.Time) error {
	blob, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	var res sql.Result
	if lastActivity != nil {
		res, err = s.db.Exec(`UPDATE contacts SET survey_stats_json = ?, last_activity = ? WHERE tenant_id = ? AND id = ?`,
			string(blob), toMillis(*lastActivity), tenantID, contactID)
	} else {
		res, err = s.db.Exec(`UPDATE contacts SET survey_stats_json = ? WHERE tenant_id = ? AND id = ?`,
			string(blob), tenantID, contactID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// statsUpdateRetries bounds the optimistic guard loop in the Apply* methods.
const statsUpdateRetries = 3

// ApplyContactInvite bumps invitedCount inside one immediate transaction.
func (s *SQLiteStore) ApplyContactInvite(tenantID, email string, date time.Time) error {
	return s.applyStats(tenantID, email, func(stats *models.ContactSurveyStats) {
		applyInviteStats(stats, date)
	}, nil)
}

// ApplyContactResponse applies the response recurrence. The update carries
// the previous respondedCount as a guard; a mismatch aborts and retries.
func (s *SQLiteStore) ApplyContactResponse(tenantID, email string, nps, rating *float64, date time.Time) error {
	la := date
	return s.applyStats(tenantID, email, func(stats *models.ContactSurveyStats) {
		applyResponseStats(stats, nps, rating, date)
	}, &la)
}

func (s *SQLiteStore) applyStats(tenantID, email string, mutate func(*models.ContactSurveyStats), lastActivity *time.Time) error {
	var lastErr error
	for attempt := 0; attempt < statsUpdateRetries; attempt++ {
		ok, err := s.applyStatsOnce(tenantID, email, mutate, lastActivity)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		lastErr = errors.New("store: contact stats guard mismatch")
	}
	return fmt.Errorf("store: contact stats update failed after %d attempts: %w", statsUpdateRetries, lastErr)
}

func (s *SQLiteStore) applyStatsOnce(tenantID, email string, mutate func(*models.ContactSurveyStats), lastActivity *time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var id, statsJSON string
	err = tx.QueryRow(`SELECT id, survey_stats_json FROM contacts WHERE tenant_id = ? AND email = ?`,
		tenantID, email).Scan(&id, &statsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	var stats models.ContactSurveyStats
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return false, err
	}
	prevResponded := stats.RespondedCount
	mutate(&stats)
	blob, err := json.Marshal(stats)
	if err != nil {
		return false, err
	}

	var res sql.Result
	guard := `json_extract(survey_stats_json, '$.respondedCount') IS ? OR (? = 0 AND json_extract(survey_stats_json, '$.respondedCount') IS NULL)`
	if lastActivity != nil {
		res, err = tx.Exec(`UPDATE contacts SET survey_stats_json = ?, last_activity = ?
			WHERE id = ? AND (`+guard+`)`,
			string(blob), toMillis(*lastActivity), id, prevResponded, prevResponded)
	} else {
		res, err = tx.Exec(`UPDATE contacts SET survey_stats_json = ?
			WHERE id = ? AND (`+guard+`)`,
			string(blob), id, prevResponded, prevResponded)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) ListInvitesByEmail(tenantID, email string) ([]*models.SurveyInvite, error) {
	rows, err := s.db.Query(`SELECT `+inviteCols+` FROM survey_invites
		WHERE tenant_id = ? AND json_extract(contact_json, '$.email') = ? COLLATE NOCASE
		ORDER BY created_at ASC`, tenantID, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.SurveyInvite{}
	for rows.Next() {
		var inv models.SurveyInvite
		var userID, contact sql.NullString
		var opened, responded sql.NullInt64
		var expires, created int64
		if err := rows.Scan(&inv.ID, &inv.SurveyID, &inv.TenantID, &userID, &contact, &inv.TokenDigest,
			&inv.Status, &opened, &responded, &expires, &inv.MaxAttempts, &inv.AttemptCount, &created); err != nil {
			return nil, err
		}
		inv.UserID = userID.String
		if contact.Valid {
			var c models.InviteContact
			decodeJSON(contact, &c)
			inv.Contact = &c
		}
		inv.OpenedAt = fromNullMillis(opened)
		inv.RespondedAt = fromNullMillis(responded)
		inv.ExpiresAt = fromMillis(expires)
		inv.CreatedAt = fromMillis(created)
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueryContacts(tenantID string, q *models.SegmentNode) ([]*models.Contact, error) {
	where, args, err := lowerSegment(q)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + contactCols + ` FROM contacts WHERE tenant_id = ?`
	all := append([]any{tenantID}, args...)
	if where != "" {
		query += ` AND ` + where
	}
	query += ` ORDER BY id ASC`
	rows, err := s.db.Query(query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Assignment rules ---

func (s *SQLiteStore) InsertAssignmentRule(r *models.AssignmentRule) error {
	conds, err := encodeJSON(r.Conditions)
	if err != nil {
		return err
	}
	assign, err := json.Marshal(r.Assignment)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO assignment_rules
		(id, tenant_id, name, priority, conditions_json, assignment_json, priority_override, is_active, last_assigned_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, toNullString(r.Name), r.Priority, conds, string(assign),
		toNullString(r.PriorityOverride), boolToInt64(r.IsActive), r.LastAssignedIndex, toMillis(r.CreatedAt))
	return err
}

func (s *SQLiteStore) ListAssignmentRules(tenantID string) ([]*models.AssignmentRule, error) {
	rows, err := s.db.Query(`SELECT id, tenant_id, name, priority, conditions_json, assignment_json, priority_override, is_active, last_assigned_index, created_at
		FROM assignment_rules WHERE tenant_id = ? AND is_active = 1 ORDER BY priority DESC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.AssignmentRule{}
	for rows.Next() {
		var r models.AssignmentRule
		var name, conds, override sql.NullString
		var assign string
		var active, created int64
		if err := rows.Scan(&r.ID, &r.TenantID, &name, &r.Priority, &conds, &assign, &override, &active, &r.LastAssignedIndex, &created); err != nil {
			return nil, err
		}
		r.Name = name.String
		decodeJSON(conds, &r.Conditions)
		_ = json.Unmarshal([]byte(assign), &r.Assignment)
		r.PriorityOverride = override.String
		r.IsActive = int64ToBool(active)
		r.CreatedAt = fromMillis(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// NextRoundRobinIndex increments the counter store-side. RETURNING keeps the
// read and the write in one statement, so concurrent assignments never
// observe the same index.
func (s *SQLiteStore) NextRoundRobinIndex(ruleID string) (int, error) {
	var idx int
	err := s.db.QueryRow(`UPDATE assignment_rules SET last_assigned_index = last_assigned_index + 1
		WHERE id = ? RETURNING last_assigned_index`, ruleID).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return idx, err
}

func (s *SQLiteStore) CountOpenActions(tenantID, assignee string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM actions
		WHERE tenant_id = ? AND assigned_to = ? AND status != ? AND is_deleted = 0`,
		tenantID, assignee, models.ActionResolved).Scan(&n)
	return n, err
}

// --- Actions ---

const actionCols = `id, tenant_id, title, description, priority, status, source, category, tags_json, feedback_id, response_id, assigned_to, assigned_to_team, auto_assigned, history_json, due_date, sla_json, completed_at, completed_by, is_deleted, created_at, created_by`

func (s *SQLiteStore) InsertAction(a *models.Action) error {
	tags, err := encodeJSON(a.Tags)
	if err != nil {
		return err
	}
	history, err := encodeJSON(a.AssignmentHistory)
	if err != nil {
		return err
	}
	sla, err := json.Marshal(a.SLA)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO actions (`+actionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Title, toNullString(a.Description), a.Priority, a.Status, a.Source,
		toNullString(a.Category), tags, toNullString(a.FeedbackID), toNullString(a.ResponseID),
		toNullString(a.AssignedTo), toNullString(a.AssignedToTeam), boolToInt64(a.AutoAssigned),
		history, toMillis(a.DueDate), string(sla), toNullMillis(a.CompletedAt), toNullString(a.CompletedBy),
		boolToInt64(a.IsDeleted), toMillis(a.CreatedAt), toNullString(a.CreatedBy))
	return err
}

func scanAction(row rowScanner) (*models.Action, error) {
	var a models.Action
	var description, category, tags, feedbackID, responseID, assignedTo, assignedTeam, history, completedBy, createdBy sql.NullString
	var completedAt sql.NullInt64
	var autoAssigned, isDeleted, dueDate, createdAt int64
	var sla string
	if err := row.Scan(&a.ID, &a.TenantID, &a.Title, &description, &a.Priority, &a.Status, &a.Source,
		&category, &tags, &feedbackID, &responseID, &assignedTo, &assignedTeam, &autoAssigned,
		&history, &dueDate, &sla, &completedAt, &completedBy, &isDeleted, &createdAt, &createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Description = description.String
	a.Category = category.String
	decodeJSON(tags, &a.Tags)
	a.FeedbackID = feedbackID.String
	a.ResponseID = responseID.String
	a.AssignedTo = assignedTo.String
	a.AssignedToTeam = assignedTeam.String
	a.AutoAssigned = int64ToBool(autoAssigned)
	decodeJSON(history, &a.AssignmentHistory)
	a.DueDate = fromMillis(dueDate)
	_ = json.Unmarshal([]byte(sla), &a.SLA)
	a.CompletedAt = fromNullMillis(completedAt)
	a.CompletedBy = completedBy.String
	a.IsDeleted = int64ToBool(isDeleted)
	a.CreatedAt = fromMillis(createdAt)
	a.CreatedBy = createdBy.String
	return &a, nil
}

func (s *SQLiteStore) GetAction(tenantID, id string) (*models.Action, error) {
	row := s.db.QueryRow(`SELECT `+actionCols+` FROM actions WHERE tenant_id = ? AND id = ? AND is_deleted = 0`, tenantID, id)
	return scanAction(row)
}

func (s *SQLiteStore) UpdateAction(a *models.Action) error {
	tags, err := encodeJSON(a.Tags)
	if err != nil {
		return err
	}
	history, err := encodeJSON(a.AssignmentHistory)
	if err != nil {
		return err
	}
	sla, err := json.Marshal(a.SLA)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE actions SET title = ?, description = ?, priority = ?, status = ?, category = ?,
		tags_json = ?, assigned_to = ?, assigned_to_team = ?, auto_assigned = ?, history_json = ?, due_date = ?,
		sla_json = ?, completed_at = ?, completed_by = ?, is_deleted = ?
		WHERE tenant_id = ? AND id = ?`,
		a.Title, toNullString(a.Description), a.Priority, a.Status, toNullString(a.Category),
		tags, toNullString(a.AssignedTo), toNullString(a.AssignedToTeam), boolToInt64(a.AutoAssigned),
		history, toMillis(a.DueDate), string(sla), toNullMillis(a.CompletedAt), toNullString(a.CompletedBy),
		boolToInt64(a.IsDeleted), a.TenantID, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListActions(tenantID string, f ActionFilter) ([]*models.Action, error) {
	query := `SELECT ` + actionCols + ` FROM actions WHERE tenant_id = ? AND is_deleted = 0`
	args := []any{tenantID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	if f.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, f.AssignedTo)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *SQLiteStore) ListBreachedActions(now time.Time) ([]*models.Action, error) {
	rows, err := s.db.Query(`SELECT `+actionCols+` FROM actions
		WHERE is_deleted = 0 AND status != ? AND json_extract(sla_json, '$.targetResolutionTime') IS NOT NULL
		ORDER BY id ASC`, models.ActionResolved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := collectActions(rows)
	if err != nil {
		return nil, err
	}
	out := []*models.Action{}
	for _, a := range all {
		if a.SLA.TargetResolutionTime.Before(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func collectActions(rows *sql.Rows) ([]*models.Action, error) {
	out := []*models.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountActionsByCategory(tenantID string, since time.Time, sources []string) (map[string]int, error) {
	query := `SELECT category, COUNT(*) FROM actions
		WHERE tenant_id = ? AND is_deleted = 0 AND created_at >= ? AND category IS NOT NULL`
	args := []any{tenantID, toMillis(since)}
	if len(sources) > 0 {
		query += ` AND source IN (` + strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",") + `)`
		for _, v := range sources {
			args = append(args, v)
		}
	}
	query += ` GROUP BY category`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		out[cat] = n
	}
	return out, rows.Err()
}

// --- Recognitions and alerts ---

func (s *SQLiteStore) InsertRecognition(r *models.Recognition) error {
	themes, err := encodeJSON(r.Themes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO recognitions (id, tenant_id, response_id, themes_json, created_at)
		VALUES (?, ?, ?, ?, ?)`, r.ID, r.TenantID, r.ResponseID, themes, toMillis(r.CreatedAt))
	return err
}

func (s *SQLiteStore) InsertAlert(a *models.Alert) error {
	_, err := s.db.Exec(`INSERT INTO alerts (id, tenant_id, type, category, count, threshold, period, severity, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Type, a.Category, a.Count, a.Threshold, toNullString(a.Period), a.Severity,
		toNullString(a.Message), toMillis(a.CreatedAt))
	return err
}

func (s *SQLiteStore) AlertExistsSince(tenantID, category string, since time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM alerts WHERE tenant_id = ? AND category = ? AND created_at >= ? LIMIT 1`,
		tenantID, category, toMillis(since)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) ListAlerts(tenantID string, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, tenant_id, type, category, count, threshold, period, severity, message, created_at
		FROM alerts WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Alert{}
	for rows.Next() {
		var a models.Alert
		var period, message sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Type, &a.Category, &a.Count, &a.Threshold, &period, &a.Severity, &message, &created); err != nil {
			return nil, err
		}
		a.Period = period.String
		a.Message = message.String
		a.CreatedAt = fromMillis(created)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Segments ---

func (s *SQLiteStore) InsertSegment(seg *models.AudienceSegment) error {
	filters, err := json.Marshal(seg.Filters)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO segments (id, tenant_id, name, filters_json, is_system, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.TenantID, seg.Name, string(filters), boolToInt64(seg.IsSystem),
		toMillis(seg.CreatedAt), toMillis(seg.UpdatedAt))
	return err
}

func (s *SQLiteStore) GetSegment(tenantID, id string) (*models.AudienceSegment, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, name, filters_json, is_system, created_at, updated_at
		FROM segments WHERE tenant_id = ? AND id = ?`, tenantID, id)
	var seg models.AudienceSegment
	var filters string
	var isSystem, created, updated int64
	if err := row.Scan(&seg.ID, &seg.TenantID, &seg.Name, &filters, &isSystem, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(filters), &seg.Filters)
	seg.IsSystem = int64ToBool(isSystem)
	seg.CreatedAt = fromMillis(created)
	seg.UpdatedAt = fromMillis(updated)
	return &seg, nil
}

func (s *SQLiteStore) UpdateSegment(seg *models.AudienceSegment) error {
	filters, err := json.Marshal(seg.Filters)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE segments SET name = ?, filters_json = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		seg.Name, string(filters), toMillis(seg.UpdatedAt), seg.TenantID, seg.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSegments(tenantID string) ([]*models.AudienceSegment, error) {
	rows, err := s.db.Query(`SELECT id, tenant_id, name, filters_json, is_system, created_at, updated_at
		FROM segments WHERE tenant_id = ? ORDER BY id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.AudienceSegment{}
	for rows.Next() {
		var seg models.AudienceSegment
		var filters string
		var isSystem, created, updated int64
		if err := rows.Scan(&seg.ID, &seg.TenantID, &seg.Name, &filters, &isSystem, &created, &updated); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(filters), &seg.Filters)
		seg.IsSystem = int64ToBool(isSystem)
		seg.CreatedAt = fromMillis(created)
		seg.UpdatedAt = fromMillis(updated)
		out = append(out, &seg)
	}
	return out, rows.Err()
}

// --- Users ---

func (s *SQLiteStore) InsertUser(u *models.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, tenant_id, email, name, role) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.TenantID, u.Email, toNullString(u.Name), toNullString(u.Role))
	return err
}

func (s *SQLiteStore) GetUser(tenantID, id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, email, name, role FROM users WHERE tenant_id = ? AND id = ?`, tenantID, id)
	var u models.User
	var name, role sql.NullString
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &name, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Name = name.String
	u.Role = role.String
	return &u, nil
}

// --- Jobs ---

func (s *SQLiteStore) EnqueueJob(j *models.Job) error {
	_, err := s.db.Exec(`INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts, next_run_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Payload, j.Status, j.Attempts, j.MaxAttempts, toMillis(j.NextRunAt),
		toNullString(j.LastError), toMillis(j.CreatedAt))
	return err
}

// ClaimJob atomically flips the oldest runnable job to running.
func (s *SQLiteStore) ClaimJob(now time.Time) (*models.Job, error) {
	row := s.db.QueryRow(`UPDATE jobs SET status = ?
		WHERE id = (SELECT id FROM jobs WHERE status = ? AND next_run_at <= ? ORDER BY next_run_at ASC LIMIT 1)
		RETURNING id, kind, payload, status, attempts, max_attempts, next_run_at, last_error, created_at`,
		models.JobRunning, models.JobPending, toMillis(now))
	return scanJob(row)
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var lastErr sql.NullString
	var nextRun, created int64
	if err := row.Scan(&j.ID, &j.Kind, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts, &nextRun, &lastErr, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	j.LastError = lastErr.String
	j.NextRunAt = fromMillis(nextRun)
	j.CreatedAt = fromMillis(created)
	return &j, nil
}

func (s *SQLiteStore) CompleteJob(id string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, models.JobDone, id)
	return err
}

func (s *SQLiteStore) RetryJob(id string, attempts int, nextRunAt time.Time, lastErr string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = ?, attempts = ?, next_run_at = ?, last_error = ? WHERE id = ?`,
		models.JobPending, attempts, toMillis(nextRunAt), lastErr, id)
	return err
}

func (s *SQLiteStore) FailJob(id string, lastErr string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = ?, last_error = ? WHERE id = ?`, models.JobFailed, lastErr, id)
	return err
}

func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT id, kind, payload, status, attempts, max_attempts, next_run_at, last_error, created_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLiteStore) InsertDeadLetter(d *models.DeadLetter) error {
	_, err := s.db.Exec(`INSERT INTO dead_letters (id, original_job_id, kind, payload, error_message, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.OriginalJobID, d.Kind, d.Payload, toNullString(d.ErrorMessage), toMillis(d.FailedAt))
	return err
}

func (s *SQLiteStore) ListDeadLetters(limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, original_job_id, kind, payload, error_message, failed_at
		FROM dead_letters ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.DeadLetter{}
	for rows.Next() {
		var d models.DeadLetter
		var msg sql.NullString
		var failed int64
		if err := rows.Scan(&d.ID, &d.OriginalJobID, &d.Kind, &d.Payload, &msg, &failed); err != nil {
			return nil, err
		}
		d.ErrorMessage = msg.String
		d.FailedAt = fromMillis(failed)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RequeueDeadLetter(id string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(`SELECT id, original_job_id, kind, payload FROM dead_letters WHERE id = ?`, id)
	var d models.DeadLetter
	if err := row.Scan(&d.ID, &d.OriginalJobID, &d.Kind, &d.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO jobs (id, kind, payload, status, attempts, max_attempts, next_run_at, last_error, created_at)
		VALUES (?, ?, ?, ?, 0, 3, ?, '', ?)`,
		d.OriginalJobID, d.Kind, d.Payload, models.JobPending, toMillis(now), toMillis(now)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
