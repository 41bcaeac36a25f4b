// Package question looks up graded questions by id. Only active questions are
// visible; an inactive question reads as not found.
package question

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/codearena/apperr"
)

// Question is the grading data of one question.
type Question struct {
	ID       string `json:"id" yaml:"id"`
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
	Language string `json:"language" yaml:"language"`
	Level    string `json:"level" yaml:"level"`
	IsActive bool   `json:"isActive" yaml:"is_active"`
}

// Repository finds questions by id. A missing or inactive question is an
// *apperr.Error of kind not_found.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Question, error)
}

func notFound(id string) error {
	return apperr.NotFound("question %s not found", id)
}

// rowQuerier is the part of pgxpool.Pool used by PostgresRepository.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads questions from the questions table.
type PostgresRepository struct {
	db rowQuerier
}

// NewPostgresRepository creates a repository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

const getQuestionSQL = `SELECT id::text, question, answer, language, level, is_active
FROM questions
WHERE id::text = $1`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Question, error) {
	var q Question
	err := r.db.QueryRow(ctx, getQuestionSQL, id).Scan(&q.ID, &q.Question, &q.Answer, &q.Language, &q.Level, &q.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, apperr.Unexpected("load question", err)
	}
	if !q.IsActive {
		return nil, notFound(id)
	}
	return &q, nil
}

// FileRepository serves questions from a YAML document, for local runs and
// fixtures.
type FileRepository struct {
	questions map[string]Question
}

type questionFile struct {
	Questions []Question `yaml:"questions"`
}

// LoadFile reads a YAML document of the form {questions: [...]}.
func LoadFile(path string) (*FileRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML builds a repository from YAML bytes. Ids must be unique.
func ParseYAML(data []byte) (*FileRepository, error) {
	var doc questionFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	repo := &FileRepository{questions: make(map[string]Question, len(doc.Questions))}
	for _, q := range doc.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question without id")
		}
		if _, dup := repo.questions[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %s", q.ID)
		}
		repo.questions[q.ID] = q
	}
	return repo, nil
}

// NewMemoryRepository builds a repository from questions.
func NewMemoryRepository(questions ...Question) *FileRepository {
	repo := &FileRepository{questions: make(map[string]Question, len(questions))}
	for _, q := range questions {
		repo.questions[q.ID] = q
	}
	return repo
}

func (r *FileRepository) GetByID(_ context.Context, id string) (*Question, error) {
	q, ok := r.questions[id]
	if !ok || !q.IsActive {
		return nil, notFound(id)
	}
	return &q, nil
}
