// Package store persists user profiles, tasks, and partition-scoped shared
// memory in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Task is one tracked goal, daily habit, or one-off item.
type Task struct {
	ID          int64
	Type        string
	Description string
	DueText     string
	Progress    string
	Completed   bool
	CreatedAt   time.Time
}

// User is the stored profile plus conversation state. Tasks holds only open
// tasks.
type User struct {
	DiscordID           int64
	Name                string
	Gender              string
	Height              string
	Sexuality           string
	Occupation          string
	Likes               []string
	Dislikes            []string
	ConversationSummary string
	Tasks               []Task
}

// ToContext renders the user in the shape the turn context carries.
func (u *User) ToContext() map[string]interface{} {
	tasks := make([]interface{}, 0, len(u.Tasks))
	for _, task := range u.Tasks {
		tasks = append(tasks, map[string]interface{}{
			"task_id":     task.ID,
			"task_type":   task.Type,
			"description": task.Description,
			"due_text":    task.DueText,
			"progress":    task.Progress,
			"completed":   task.Completed,
		})
	}
	return map[string]interface{}{
		"discord_id": u.DiscordID,
		"profile": map[string]interface{}{
			"name":       u.Name,
			"likes":      u.Likes,
			"dislikes":   u.Dislikes,
			"gender":     u.Gender,
			"height":     u.Height,
			"sexuality":  u.Sexuality,
			"occupation": u.Occupation,
		},
		"conversation_summary": u.ConversationSummary,
		"tasks":                tasks,
	}
}

// Store is the single SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			discord_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			gender TEXT NOT NULL DEFAULT '',
			height TEXT NOT NULL DEFAULT '',
			sexuality TEXT NOT NULL DEFAULT '',
			occupation TEXT NOT NULL DEFAULT '',
			conversation_summary TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS user_likes (
			user_id INTEGER NOT NULL REFERENCES users(discord_id),
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, value)
		);`,
		`CREATE TABLE IF NOT EXISTS user_dislikes (
			user_id INTEGER NOT NULL REFERENCES users(discord_id),
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, value)
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_type TEXT NOT NULL CHECK (task_type IN ('goal', 'daily', 'one_off')),
			description TEXT NOT NULL,
			due_text TEXT,
			progress TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			user_id INTEGER REFERENCES users(discord_id)
		);`,
		`CREATE INDEX IF NOT EXISTS tasks_user_open_idx ON tasks(user_id, completed);`,
		`CREATE TABLE IF NOT EXISTS global_memory (
			key TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT ''
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

// EnsureUser inserts the user if absent and refreshes the display name
// either way.
func (s *Store) EnsureUser(ctx context.Context, discordID int64, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (discord_id, name) VALUES (?, ?)
		ON CONFLICT(discord_id) DO UPDATE SET name = excluded.name
	`, discordID, displayName)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", discordID, err)
	}
	return nil
}

// GetUser loads profile, likes/dislikes, summary, and open tasks.
func (s *Store) GetUser(ctx context.Context, discordID int64) (*User, error) {
	user := &User{DiscordID: discordID, Likes: []string{}, Dislikes: []string{}, Tasks: []Task{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, gender, height, sexuality, occupation, conversation_summary
		FROM users WHERE discord_id = ?
	`, discordID).Scan(&user.Name, &user.Gender, &user.Height, &user.Sexuality, &user.Occupation, &user.ConversationSummary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d not found", discordID)
		}
		return nil, fmt.Errorf("load user %d: %w", discordID, err)
	}

	user.Likes, err = s.userValues(ctx, "user_likes", discordID)
	if err != nil {
		return nil, err
	}
	user.Dislikes, err = s.userValues(ctx, "user_dislikes", discordID)
	if err != nil {
		return nil, err
	}
	user.Tasks, err = s.OpenTasks(ctx, discordID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) userValues(ctx context.Context, table string, discordID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM `+table+` WHERE user_id = ? ORDER BY value`, discordID)
	if err != nil {
		return nil, fmt.Errorf("load %s for %d: %w", table, discordID, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// ApplyProfile merges judged profile updates. Scalar fields update when
// present; likes and dislikes are wholesale replaced, not unioned.
func (s *Store) ApplyProfile(ctx context.Context, discordID int64, profile map[string]interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply profile for %d: %w", discordID, err)
	}
	defer tx.Rollback()

	for _, field := range []string{"name", "gender", "height", "sexuality", "occupation"} {
		value, ok := profile[field].(string)
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET `+field+` = ? WHERE discord_id = ?`, value, discordID); err != nil {
			return fmt.Errorf("update %s for %d: %w", field, discordID, err)
		}
	}

	for table, key := range map[string]string{"user_likes": "likes", "user_dislikes": "dislikes"} {
		raw, ok := profile[key]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, discordID); err != nil {
			return fmt.Errorf("clear %s for %d: %w", table, discordID, err)
		}
		for _, value := range toStringList(raw) {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (user_id, value) VALUES (?, ?)`, discordID, value); err != nil {
				return fmt.Errorf("insert %s for %d: %w", table, discordID, err)
			}
		}
	}
	return tx.Commit()
}

func toStringList(raw interface{}) []string {
	switch typed := raw.(type) {
	case []string:
		return typed
	case []interface{}:
		values := make([]string, 0, len(typed))
		for _, v := range typed {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		return values
	default:
		return nil
	}
}

func (s *Store) SetConversationSummary(ctx context.Context, discordID int64, summary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET conversation_summary = ? WHERE discord_id = ?`, summary, discordID)
	if err != nil {
		return fmt.Errorf("set conversation summary for %d: %w", discordID, err)
	}
	return nil
}

// AddTask records a new open task and returns its id.
func (s *Store) AddTask(ctx context.Context, discordID int64, taskType, description, dueText string) (int64, error) {
	var due sql.NullString
	if dueText != "" {
		due = sql.NullString{String: dueText, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_type, description, due_text, progress, completed, created_at_ms, user_id)
		VALUES (?, ?, ?, NULL, 0, ?, ?)
	`, taskType, description, due, time.Now().UnixMilli(), discordID)
	if err != nil {
		return 0, fmt.Errorf("add task for %d: %w", discordID, err)
	}
	return result.LastInsertId()
}

// UpdateTaskProgress sets progress notes and completion. Returns false when
// the task does not exist or belongs to another user.
func (s *Store) UpdateTaskProgress(ctx context.Context, discordID, taskID int64, progress string, completed bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET progress = ?, completed = ? WHERE task_id = ? AND user_id = ?
	`, progress, completed, taskID, discordID)
	if err != nil {
		return false, fmt.Errorf("update task %d: %w", taskID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// OpenTasks lists the user's incomplete tasks, oldest first.
func (s *Store) OpenTasks(ctx context.Context, discordID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, task_type, description, COALESCE(due_text, ''), COALESCE(progress, ''), completed, created_at_ms
		FROM tasks WHERE user_id = ? AND completed = 0 ORDER BY created_at_ms, task_id
	`, discordID)
	if err != nil {
		return nil, fmt.Errorf("load open tasks for %d: %w", discordID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	tasks := []Task{}
	for rows.Next() {
		var task Task
		var createdMS int64
		if err := rows.Scan(&task.ID, &task.Type, &task.Description, &task.DueText, &task.Progress, &task.Completed, &createdMS); err != nil {
			return nil, err
		}
		task.CreatedAt = time.UnixMilli(createdMS)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GlobalMemory returns the shared note for a partition key, empty when
// unset.
func (s *Store) GlobalMemory(ctx context.Context, key string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM global_memory WHERE key = ?`, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load global memory %q: %w", key, err)
	}
	return content, nil
}

func (s *Store) SetGlobalMemory(ctx context.Context, key, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_memory (key, content) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET content = excluded.content
	`, key, content)
	if err != nil {
		return fmt.Errorf("set global memory %q: %w", key, err)
	}
	return nil
}

// UsersWithOpenTasks returns ids of users who have at least one open task,
// used by the reminder digest.
func (s *Store) UsersWithOpenTasks(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM tasks WHERE completed = 0 AND user_id IS NOT NULL ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load users with open tasks: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
