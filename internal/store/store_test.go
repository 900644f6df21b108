package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
)

// exercise runs the shared contract against any Store.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.NewString()

	session := &interview.Session{
		ID:             id,
		JobID:          "backend",
		CandidateName:  "Ada",
		Status:         interview.StatusStarted,
		Turns:          []interview.Turn{},
		MaxTurns:       3,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	t.Run("create", func(t *testing.T) {
		if err := s.CreateSession(ctx, session); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.CreateSession(ctx, session); !errors.Is(err, ErrExists) {
			t.Fatalf("duplicate create: expected ErrExists, got %v", err)
		}
	})

	t.Run("load unknown", func(t *testing.T) {
		if _, err := s.LoadSession(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("append", func(t *testing.T) {
		opening := []interview.Turn{{Seq: 0, Role: interview.RoleAgent, Text: "Welcome", At: now}}
		active := interview.StateChange{Status: interview.StatusActive, LastActivityAt: now}
		if err := s.AppendTurns(ctx, id, opening, active); err != nil {
			t.Fatalf("append opening: %v", err)
		}

		pair := []interview.Turn{
			{Seq: 1, Role: interview.RoleCandidate, Text: interview.RedactedText, At: now, Redacted: true, Rule: "injection"},
			{Seq: 2, Role: interview.RoleAgent, Text: "Let's move on.", At: now},
		}
		active.TurnCount = 1
		if err := s.AppendTurns(ctx, id, pair, active); err != nil {
			t.Fatalf("append pair: %v", err)
		}

		gap := []interview.Turn{{Seq: 5, Role: interview.RoleCandidate, Text: "late", At: now}}
		if err := s.AppendTurns(ctx, id, gap, active); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for a gap, got %v", err)
		}

		got, err := s.LoadSession(ctx, id)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Status != interview.StatusActive || got.TurnCount != 1 || len(got.Turns) != 3 {
			t.Fatalf("unexpected session: %+v", got)
		}
		for i, turn := range got.Turns {
			if turn.Seq != i {
				t.Fatalf("turn %d has seq %d", i, turn.Seq)
			}
		}
		if !got.Turns[1].Redacted || got.Turns[1].Rule != "injection" {
			t.Fatalf("redaction lost: %+v", got.Turns[1])
		}
	})

	t.Run("update state", func(t *testing.T) {
		ended := now.Add(time.Minute)
		change := interview.StateChange{
			Status:         interview.StatusCompleted,
			TurnCount:      1,
			LastActivityAt: ended,
			EndedAt:        ended,
			EndReason:      interview.ReasonCloseSignal,
		}
		if err := s.UpdateState(ctx, id, change); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := s.LoadSession(ctx, id)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Status != interview.StatusCompleted || !got.EndedAt.Equal(ended) || got.EndReason != interview.ReasonCloseSignal {
			t.Fatalf("state not persisted: %+v", got)
		}
		if err := s.UpdateState(ctx, uuid.NewString(), change); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("evaluation", func(t *testing.T) {
		if _, err := s.LoadEvaluation(ctx, id); !errors.Is(err, evaluation.ErrNoResult) {
			t.Fatalf("expected ErrNoResult, got %v", err)
		}

		first := &evaluation.Result{
			SessionID:   id,
			JobID:       "backend",
			SkillMatch:  91,
			Composite:   91,
			Tier:        evaluation.TierS,
			Strengths:   []string{"ownership"},
			RedFlags:    []string{},
			EvaluatedAt: now,
		}
		if err := s.SaveEvaluation(ctx, first); err != nil {
			t.Fatalf("save: %v", err)
		}
		second := first.Clone()
		second.Tier = evaluation.TierC
		if err := s.SaveEvaluation(ctx, second); err != nil {
			t.Fatalf("second save: %v", err)
		}

		got, err := s.LoadEvaluation(ctx, id)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Tier != evaluation.TierS || len(got.Strengths) != 1 || got.Strengths[0] != "ownership" {
			t.Fatalf("first result must win: %+v", got)
		}
	})
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	session := &interview.Session{ID: "s1", Status: interview.StatusStarted}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatal(err)
	}
	session.Status = interview.StatusAbandoned

	got, err := s.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != interview.StatusStarted {
		t.Fatalf("store shares memory with the caller")
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("AI_INTERVIEW_TEST_DSN")
	if dsn == "" {
		t.Skip("AI_INTERVIEW_TEST_DSN is not set")
	}

	s, err := OpenPostgres(dsn, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exercise(t, s)
}
