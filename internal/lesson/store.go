package lesson

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Lesson is a saved lesson document with its extracted outline.
type Lesson struct {
	ID        string    `json:"id"`
	TeacherID string    `json:"teacher_id"`
	Title     string    `json:"title"`
	Content   *Content  `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists lessons. Like the analyzer it is an external collaborator:
// opaque to the session core, consumed only by the HTTP lesson endpoints.
type Store interface {
	SaveLesson(ctx context.Context, lesson *Lesson) error
	GetLesson(ctx context.Context, id string) (*Lesson, error)
	ListLessons(ctx context.Context, teacherID string) ([]*Lesson, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS lessons (
	id TEXT PRIMARY KEY,
	teacher_id TEXT NOT NULL,
	title TEXT NOT NULL,
	introduction TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	conclusion TEXT NOT NULL DEFAULT '',
	pain_points TEXT NOT NULL DEFAULT '',
	vocabulary_notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lessons_teacher ON lessons(teacher_id);
`

// SQLiteStore is the sqlite-backed lesson store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the lesson database. WAL mode and a busy
// timeout keep concurrent readers from tripping over the writer.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open lesson database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply lesson schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

// SaveLesson inserts the lesson, assigning an ID and timestamp when absent.
func (s *SQLiteStore) SaveLesson(ctx context.Context, lesson *Lesson) error {
	if lesson.Content == nil {
		return ErrMissingContent
	}
	if lesson.ID == "" {
		lesson.ID = uuid.New().String()
	}
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (id, teacher_id, title, introduction, body, conclusion, pain_points, vocabulary_notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lesson.ID, lesson.TeacherID, lesson.Title,
		lesson.Content.Introduction, lesson.Content.Body, lesson.Content.Conclusion,
		lesson.Content.PainPoints, lesson.Content.VocabularyNotes, lesson.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save lesson: %w", err)
	}
	return nil
}

// GetLesson fetches one lesson by ID.
func (s *SQLiteStore) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, teacher_id, title, introduction, body, conclusion, pain_points, vocabulary_notes, created_at
		 FROM lessons WHERE id = ?`, id)
	lesson, err := scanLesson(row)
	if err == sql.ErrNoRows {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return lesson, nil
}

// ListLessons returns a teacher's lessons, newest first.
func (s *SQLiteStore) ListLessons(ctx context.Context, teacherID string) ([]*Lesson, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, teacher_id, title, introduction, body, conclusion, pain_points, vocabulary_notes, created_at
		 FROM lessons WHERE teacher_id = ? ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*Lesson
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	return lessons, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanLesson(row scannable) (*Lesson, error) {
	lesson := &Lesson{Content: &Content{}}
	err := row.Scan(&lesson.ID, &lesson.TeacherID, &lesson.Title,
		&lesson.Content.Introduction, &lesson.Content.Body, &lesson.Content.Conclusion,
		&lesson.Content.PainPoints, &lesson.Content.VocabularyNotes, &lesson.CreatedAt)
	if err != nil {
		return nil, err
	}
	return lesson, nil
}
