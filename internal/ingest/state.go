package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultStatePath is used when no state path is configured.
const DefaultStatePath = "~/.floatctl/ingest-state.json"

// ProcessedFile identifies the version of an input that was ingested. A file
// whose size or modification time changed is ingested again.
type ProcessedFile struct {
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	IngestedAt    time.Time `json:"ingested_at"`
	Conversations int       `json:"conversations"`
}

// State tracks progress so interrupted or repeated ingest runs resume.
type State struct {
	StartedAt             time.Time                `json:"started_at"`
	LastRunAt             time.Time                `json:"last_run_at"`
	Files                 map[string]ProcessedFile `json:"files"`
	ConversationsIngested int                      `json:"conversations_ingested"`
	MessagesIngested      int                      `json:"messages_ingested"`
	Errors                []string                 `json:"errors"`

	path string
}

const maxStateErrors = 100

// LoadState reads the state file at path, or starts a fresh state if it does
// not exist yet.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				Files:     map[string]ProcessedFile{},
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", p, err)
	}
	if s.Files == nil {
		s.Files = map[string]ProcessedFile{}
	}
	s.path = p
	return &s, nil
}

// Save writes the state through a temp file and rename so a crash never
// leaves a truncated state file behind.
func (s *State) Save() error {
	s.LastRunAt = time.Now().UTC()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// Path is the resolved location of the state file.
func (s *State) Path() string {
	return s.path
}

// IsProcessed reports whether path was ingested at its current size and
// modification time.
func (s *State) IsProcessed(path string, info os.FileInfo) bool {
	pf, ok := s.Files[path]
	if !ok {
		return false
	}
	return pf.Size == info.Size() && pf.ModTime.Equal(info.ModTime().UTC())
}

// MarkProcessed records an ingested file.
func (s *State) MarkProcessed(path string, info os.FileInfo, conversations, messages int) {
	s.Files[path] = ProcessedFile{
		Size:          info.Size(),
		ModTime:       info.ModTime().UTC(),
		IngestedAt:    time.Now().UTC(),
		Conversations: conversations,
	}
	s.ConversationsIngested += conversations
	s.MessagesIngested += messages
}

// AddError records a processing error, keeping only the most recent ones.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
	if len(s.Errors) > maxStateErrors {
		s.Errors = s.Errors[len(s.Errors)-maxStateErrors:]
	}
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
