package registry

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"diffusiond/pkg/types"
)

// Registry maps user ids to model identifiers. Resolution never fails: an
// unknown user gets the default model id.
type Registry struct {
	mu           sync.RWMutex
	userModels   map[string]string
	defaultModel string
	usersDir     string
}

// New builds a Registry from a static user->model mapping.
func New(userModels map[string]string, defaultModel, usersDir string) *Registry {
	m := make(map[string]string, len(userModels))
	for k, v := range userModels {
		m[k] = v
	}
	return &Registry{userModels: m, defaultModel: defaultModel, usersDir: usersDir}
}

// Resolve returns the model identifier for userID, falling back to the
// default model for unknown users. Pure lookup, no I/O; the training
// orchestrator calls Assign when a fine-tune completes, which makes the new
// artifact resolvable without a restart.
func (r *Registry) Resolve(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.userModels[userID]; ok && id != "" {
		return id
	}
	return r.defaultModel
}

// Assign records a user->model mapping, replacing any previous one.
func (r *Registry) Assign(userID, modelID string) {
	r.mu.Lock()
	r.userModels[userID] = modelID
	r.mu.Unlock()
}

// DefaultModel returns the configured default model identifier.
func (r *Registry) DefaultModel() string { return r.defaultModel }

// ModelPath maps a model identifier to an on-disk artifact directory if one
// exists under any user's models dir. Hub-style ids resolve to "".
func (r *Registry) ModelPath(modelID string) string {
	if r.usersDir == "" {
		return ""
	}
	entries, err := os.ReadDir(r.usersDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(r.usersDir, e.Name(), "models", modelID)
		if st, err := os.Stat(p); err == nil && st.IsDir() {
			return p
		}
	}
	return ""
}

// ListModels enumerates trained model artifacts across all users plus the
// configured default, for observability and the CLI.
func (r *Registry) ListModels() []types.Model {
	seen := map[string]bool{}
	var out []types.Model
	if r.defaultModel != "" {
		out = append(out, types.Model{ID: r.defaultModel, Name: r.defaultModel})
		seen[r.defaultModel] = true
	}
	if r.usersDir != "" {
		users, _ := os.ReadDir(r.usersDir)
		for _, u := range users {
			if !u.IsDir() {
				continue
			}
			modelsDir := filepath.Join(r.usersDir, u.Name(), "models")
			models, _ := os.ReadDir(modelsDir)
			for _, m := range models {
				if !m.IsDir() || seen[m.Name()] {
					continue
				}
				seen[m.Name()] = true
				out = append(out, types.Model{
					ID:     m.Name(),
					Name:   m.Name(),
					Path:   filepath.Join(modelsDir, m.Name()),
					UserID: u.Name(),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
