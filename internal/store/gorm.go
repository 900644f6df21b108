package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
)

type sessionRecord struct {
	ID             string       `gorm:"type:text;primaryKey"`
	JobID          string       `gorm:"type:text;not null;index"`
	CandidateName  string       `gorm:"type:text"`
	Status         string       `gorm:"type:text;not null;index"`
	TurnCount      int          `gorm:"not null;default:0"`
	MaxTurns       int          `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null"`
	LastActivityAt time.Time    `gorm:"not null"`
	EndedAt        *time.Time   `gorm:"default:null"`
	EndReason      string       `gorm:"type:text"`
	Turns          []turnRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRecord) TableName() string { return "interview_sessions" }

type turnRecord struct {
	SessionID string    `gorm:"type:text;primaryKey"`
	Seq       int       `gorm:"primaryKey;autoIncrement:false"`
	Role      string    `gorm:"type:text;not null"`
	Text      string    `gorm:"type:text;not null"`
	At        time.Time `gorm:"not null"`
	Redacted  bool      `gorm:"not null;default:false"`
	Rule      string    `gorm:"type:text"`
}

func (turnRecord) TableName() string { return "interview_turns" }

type evaluationRecord struct {
	SessionID              string    `gorm:"type:text;primaryKey"`
	JobID                  string    `gorm:"type:text;not null;index"`
	SkillMatch             float64   `gorm:"not null"`
	SkillMatchRationale    string    `gorm:"type:text"`
	Communication          float64   `gorm:"not null"`
	CommunicationRationale string    `gorm:"type:text"`
	RemoteFit              float64   `gorm:"not null"`
	RemoteFitRationale     string    `gorm:"type:text"`
	Composite              int       `gorm:"not null"`
	Tier                   string    `gorm:"type:text;not null;index"`
	Strengths              []string  `gorm:"serializer:json"`
	RedFlags               []string  `gorm:"serializer:json"`
	Summary                string    `gorm:"type:text"`
	CandidateMessage       string    `gorm:"type:text"`
	Model                  string    `gorm:"type:text"`
	EvaluatedAt            time.Time `gorm:"not null"`
}

func (evaluationRecord) TableName() string { return "interview_evaluations" }

// Gorm persists to a SQL database through gorm.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(dsn string, debug bool) (*Gorm, error) {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := NewGorm(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGorm wraps an open connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Close releases the underlying connection pool.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the tables.
func (g *Gorm) Migrate() error {
	if err := g.db.AutoMigrate(&sessionRecord{}, &turnRecord{}, &evaluationRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (g *Gorm) CreateSession(ctx context.Context, session *interview.Session) error {
	rec := toSessionRecord(session)
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("failed to create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrExists, session.ID)
	}
	return nil
}

func (g *Gorm) LoadSession(ctx context.Context, id string) (*interview.Session, error) {
	var rec sessionRecord
	err := g.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return rec.toSession(), nil
}

// AppendTurns writes the turns and the state change in one transaction. The
// session row is locked so concurrent writers cannot interleave sequences.
func (g *Gorm) AppendTurns(ctx context.Context, id string, turns []interview.Turn, state interview.StateChange) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec sessionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", id).
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		var existing int64
		if err := tx.Model(&turnRecord{}).Where("session_id = ?", id).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to count turns: %w", err)
		}
		if err := checkContiguous(int(existing), turns); err != nil {
			return fmt.Errorf("%w: session %s has %d turns", err, id, existing)
		}

		if len(turns) > 0 {
			records := make([]turnRecord, 0, len(turns))
			for _, t := range turns {
				records = append(records, toTurnRecord(id, t))
			}
			if err := tx.Create(&records).Error; err != nil {
				return fmt.Errorf("failed to append turns: %w", err)
			}
		}

		return updateState(tx, id, state)
	})
}

func (g *Gorm) UpdateState(ctx context.Context, id string, state interview.StateChange) error {
	return updateState(g.db.WithContext(ctx), id, state)
}

// SaveEvaluation stores the first result per session; later saves are ignored.
func (g *Gorm) SaveEvaluation(ctx context.Context, result *evaluation.Result) error {
	rec := toEvaluationRecord(result)
	if err := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	return nil
}

func (g *Gorm) LoadEvaluation(ctx context.Context, sessionID string) (*evaluation.Result, error) {
	var rec evaluationRecord
	if err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", evaluation.ErrNoResult, sessionID)
		}
		return nil, fmt.Errorf("failed to load evaluation: %w", err)
	}
	return rec.toResult(), nil
}

func updateState(db *gorm.DB, id string, state interview.StateChange) error {
	res := db.Model(&sessionRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           string(state.Status),
			"turn_count":       state.TurnCount,
			"last_activity_at": state.LastActivityAt,
			"ended_at":         timePtr(state.EndedAt),
			"end_reason":       state.EndReason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func toSessionRecord(s *interview.Session) sessionRecord {
	rec := sessionRecord{
		ID:             s.ID,
		JobID:          s.JobID,
		CandidateName:  s.CandidateName,
		Status:         string(s.Status),
		TurnCount:      s.TurnCount,
		MaxTurns:       s.MaxTurns,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		EndedAt:        timePtr(s.EndedAt),
		EndReason:      s.EndReason,
	}
	for _, t := range s.Turns {
		rec.Turns = append(rec.Turns, toTurnRecord(s.ID, t))
	}
	return rec
}

func (r sessionRecord) toSession() *interview.Session {
	s := &interview.Session{
		ID:             r.ID,
		JobID:          r.JobID,
		CandidateName:  r.CandidateName,
		Status:         interview.Status(r.Status),
		Turns:          make([]interview.Turn, 0, len(r.Turns)),
		TurnCount:      r.TurnCount,
		MaxTurns:       r.MaxTurns,
		CreatedAt:      r.CreatedAt.UTC(),
		LastActivityAt: r.LastActivityAt.UTC(),
		EndReason:      r.EndReason,
	}
	if r.EndedAt != nil {
		s.EndedAt = r.EndedAt.UTC()
	}
	for _, t := range r.Turns {
		s.Turns = append(s.Turns, interview.Turn{
			Seq:      t.Seq,
			Role:     interview.Role(t.Role),
			Text:     t.Text,
			At:       t.At.UTC(),
			Redacted: t.Redacted,
			Rule:     t.Rule,
		})
	}
	return s
}

func toTurnRecord(sessionID string, t interview.Turn) turnRecord {
	return turnRecord{
		SessionID: sessionID,
		Seq:       t.Seq,
		Role:      string(t.Role),
		Text:      t.Text,
		At:        t.At,
		Redacted:  t.Redacted,
		Rule:      t.Rule,
	}
}

func toEvaluationRecord(r *evaluation.Result) evaluationRecord {
	return evaluationRecord{
		SessionID:              r.SessionID,
		JobID:                  r.JobID,
		SkillMatch:             r.SkillMatch,
		SkillMatchRationale:    r.SkillMatchRationale,
		Communication:          r.Communication,
		CommunicationRationale: r.CommunicationRationale,
		RemoteFit:              r.RemoteFit,
		RemoteFitRationale:     r.RemoteFitRationale,
		Composite:              r.Composite,
		Tier:                   string(r.Tier),
		Strengths:              r.Strengths,
		RedFlags:               r.RedFlags,
		Summary:                r.Summary,
		CandidateMessage:       r.CandidateMessage,
		Model:                  r.Model,
		EvaluatedAt:            r.EvaluatedAt,
	}
}

func (r evaluationRecord) toResult() *evaluation.Result {
	res := &evaluation.Result{
		SessionID:              r.SessionID,
		JobID:                  r.JobID,
		SkillMatch:             r.SkillMatch,
		SkillMatchRationale:    r.SkillMatchRationale,
		Communication:          r.Communication,
		CommunicationRationale: r.CommunicationRationale,
		RemoteFit:              r.RemoteFit,
		RemoteFitRationale:     r.RemoteFitRationale,
		Composite:              r.Composite,
		Tier:                   evaluation.Tier(r.Tier),
		Strengths:              r.Strengths,
		RedFlags:               r.RedFlags,
		Summary:                r.Summary,
		CandidateMessage:       r.CandidateMessage,
		Model:                  r.Model,
		EvaluatedAt:            r.EvaluatedAt.UTC(),
	}
	if res.Strengths == nil {
		res.Strengths = []string{}
	}
	if res.RedFlags == nil {
		res.RedFlags = []string{}
	}
	return res
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
